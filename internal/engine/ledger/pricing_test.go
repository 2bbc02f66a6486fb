package ledger

import (
	stderrors "errors"
	"testing"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/models"
)

func testPriceTable() *PriceTable {
	return NewPriceTable(config.PricingConfig{
		Models: map[string]config.ModelPricing{
			"gpt-4o": {InputPerMillion: 2_500_000, OutputPerMillion: 10_000_000},
			"tiny":   {InputPerMillion: 3, OutputPerMillion: 7},
		},
	})
}

func TestPriceTable_Cost(t *testing.T) {
	table := testPriceTable()

	cost, err := table.Cost(Usage{Model: "gpt-4o", InputTokens: 1_000_000, OutputTokens: 500_000})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != models.Micros(2_500_000+5_000_000) {
		t.Errorf("Expected 7500000 micros, got %d", cost)
	}
}

func TestPriceTable_CostRoundsUpPerSide(t *testing.T) {
	table := testPriceTable()

	// 1 token at 3 micros per million is a fraction of a micro; both sides
	// round up independently.
	cost, err := table.Cost(Usage{Model: "tiny", InputTokens: 1, OutputTokens: 1})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 2 {
		t.Errorf("Expected 2 micros (1 per side), got %d", cost)
	}
}

func TestPriceTable_ZeroUsageCostsNothing(t *testing.T) {
	cost, err := testPriceTable().Cost(Usage{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 0 {
		t.Errorf("Expected zero cost, got %d", cost)
	}
}

func TestPriceTable_UnknownModelRejected(t *testing.T) {
	_, err := testPriceTable().Cost(Usage{Model: "unknown", InputTokens: 10})
	if !stderrors.Is(err, errors.ErrUnpriceableUsage) {
		t.Errorf("Expected ErrUnpriceableUsage, got %v", err)
	}
}

func TestPriceTable_NegativeCountsRejected(t *testing.T) {
	_, err := testPriceTable().Cost(Usage{Model: "gpt-4o", InputTokens: -1})
	if !stderrors.Is(err, errors.ErrUnpriceableUsage) {
		t.Errorf("Expected ErrUnpriceableUsage, got %v", err)
	}
}
