package workers

import (
	"time"

	"github.com/rs/zerolog/log"

	"tollgate/internal/engine/payouts"
	"tollgate/internal/platform/repositories"
)

// ReconcilePayouts drives pending payouts forward: transfers that were never
// created get created, transfers the rail has settled get completed.
func ReconcilePayouts(svc *payouts.Service) {
	if err := svc.ReconcilePending(); err != nil {
		log.Error().Err(err).Msg("payout reconciliation sweep failed")
	}
}

// PurgeExpiredGrants deletes authorization codes and refresh tokens past
// their expiry.
func PurgeExpiredGrants(store *repositories.OAuthRepository) {
	now := time.Now().Unix()

	codes, err := store.DeleteExpiredCodes(now)
	if err != nil {
		log.Error().Err(err).Msg("expired code purge failed")
	}
	tokens, err := store.DeleteExpiredRefresh(now)
	if err != nil {
		log.Error().Err(err).Msg("expired refresh purge failed")
	}

	if codes > 0 || tokens > 0 {
		log.Info().Int64("codes", codes).Int64("refresh_tokens", tokens).Msg("purged expired grants")
	}
}
