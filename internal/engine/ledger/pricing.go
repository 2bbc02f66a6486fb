package ledger

import (
	"fmt"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/models"
)

const tokensPerPriceUnit = 1_000_000

// Usage is the provider-reported token usage for one inference call.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// PriceTable converts token usage into raw provider cost. Input and output
// tokens are priced independently.
type PriceTable struct {
	models map[string]config.ModelPricing
}

func NewPriceTable(cfg config.PricingConfig) *PriceTable {
	return &PriceTable{models: cfg.Models}
}

// Cost prices the usage, rounding each side up so fractional micro-cents
// are never given away. Unknown models and malformed counts are rejected
// before any metering happens.
func (p *PriceTable) Cost(usage Usage) (models.Micros, error) {
	if usage.InputTokens < 0 || usage.OutputTokens < 0 {
		return 0, fmt.Errorf("%w: negative token counts", errors.ErrUnpriceableUsage)
	}
	pricing, ok := p.models[usage.Model]
	if !ok {
		return 0, fmt.Errorf("%w: no pricing for model %q", errors.ErrUnpriceableUsage, usage.Model)
	}

	cost := ceilDiv(usage.InputTokens*pricing.InputPerMillion, tokensPerPriceUnit) +
		ceilDiv(usage.OutputTokens*pricing.OutputPerMillion, tokensPerPriceUnit)
	return models.Micros(cost), nil
}

func ceilDiv(a, b int64) int64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}
