package ledger

import (
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/models"
)

const maxReferralShareBps = models.BpsScale / 2

// SplitPolicy decides how the charged amount is attributed. The referral
// share is carved out of the markup margin, never out of raw cost, and is
// capped at half the margin so referralProfit never exceeds markUpProfit.
//
// Contract: appProfit + markUpProfit + referralProfit == charged.
type SplitPolicy struct {
	referralShareBps int64
}

func NewSplitPolicy(cfg config.BillingConfig) *SplitPolicy {
	bps := cfg.ReferralShareBps
	if bps < 0 {
		bps = 0
	}
	if bps > maxReferralShareBps {
		bps = maxReferralShareBps
	}
	return &SplitPolicy{referralShareBps: bps}
}

func (p *SplitPolicy) Split(rawCost, charged models.Micros, hasReferral bool) (appProfit, markUpProfit, referralProfit models.Micros) {
	margin := charged - rawCost

	if hasReferral {
		referralProfit = models.Micros(int64(margin) * p.referralShareBps / models.BpsScale)
	}
	markUpProfit = margin - referralProfit
	appProfit = rawCost
	return appProfit, markUpProfit, referralProfit
}
