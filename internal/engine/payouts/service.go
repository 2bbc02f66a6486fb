package payouts

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

// Service computes claimable earnings and turns claims into payouts settled
// asynchronously through the payment rail. The claimable figure and the
// payout insert always share one transaction; a partial unique index on
// pending payouts backstops concurrent claims.
type Service struct {
	payouts      *repositories.PayoutRepository
	transactions *repositories.TransactionRepository
	apps         *repositories.AppRepository
	users        *repositories.UserRepository
	rail         PaymentRail
	cfg          config.PayoutsConfig

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(payouts *repositories.PayoutRepository, transactions *repositories.TransactionRepository,
	apps *repositories.AppRepository, users *repositories.UserRepository,
	rail PaymentRail, cfg config.PayoutsConfig) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		payouts:      payouts,
		transactions: transactions,
		apps:         apps,
		users:        users,
		rail:         rail,
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Close stops settlement polling for in-flight claims. Payouts still
// pending are finished later by the reconciliation sweep.
func (s *Service) Close() {
	s.cancel()
}

// Claimable returns gross profit of the given type minus everything already
// claimed, clamped to zero. App-wide markup figures are only visible to the
// app's owner, same as claiming them.
func (s *Service) Claimable(userID, appID, payoutType string) (models.Micros, error) {
	app, err := s.apps.GetByID(appID)
	if err != nil {
		return 0, err
	}
	if app == nil {
		return 0, errors.ErrNotFound
	}
	if payoutType == models.PayoutTypeMarkup && app.OwnerUserID != userID {
		return 0, errors.ErrNotAppOwner
	}

	tx, err := s.payouts.BeginTx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	return s.claimableTx(tx, userID, appID, payoutType)
}

func (s *Service) claimableTx(tx *sql.Tx, userID, appID, payoutType string) (models.Micros, error) {
	var gross models.Micros
	var err error
	switch payoutType {
	case models.PayoutTypeMarkup:
		gross, err = s.transactions.GrossMarkupProfitTx(tx, appID)
	case models.PayoutTypeReferral:
		gross, err = s.transactions.GrossReferralProfitTx(tx, userID, appID)
	default:
		return 0, errors.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	claimed, err := s.payouts.SumClaimedTx(tx, userID, appID, payoutType)
	if err != nil {
		return 0, err
	}

	claimable := gross - claimed
	if claimable < 0 {
		claimable = 0
	}
	return claimable, nil
}

// ClaimForApp creates one pending payout for the currently claimable
// amount. The response returns as soon as the payout row is committed;
// settlement runs off the request path.
func (s *Service) ClaimForApp(userID, appID, payoutType string) (*models.Payout, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.ErrNotFound
	}
	if user.GithubLinkID == "" {
		return nil, errors.ErrNoPayoutRecipient
	}

	app, err := s.apps.GetByID(appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errors.ErrNotFound
	}
	if payoutType == models.PayoutTypeMarkup && app.OwnerUserID != userID {
		return nil, errors.ErrNotAppOwner
	}

	tx, err := s.payouts.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payout, err := s.createPayoutTx(tx, user, appID, payoutType)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	go s.settle(payout)
	return payout, nil
}

// ClaimAll claims per app with earnings > 0 in one multi-row atomic insert.
func (s *Service) ClaimAll(userID, payoutType string) ([]*models.Payout, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.ErrNotFound
	}
	if user.GithubLinkID == "" {
		return nil, errors.ErrNoPayoutRecipient
	}

	var appIDs []string
	switch payoutType {
	case models.PayoutTypeMarkup:
		apps, err := s.apps.ListByOwner(userID)
		if err != nil {
			return nil, err
		}
		for _, app := range apps {
			appIDs = append(appIDs, app.ID)
		}
	case models.PayoutTypeReferral:
		appIDs, err = s.transactions.AppsWithReferralProfit(userID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.ErrNotFound
	}

	tx, err := s.payouts.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var created []*models.Payout
	for _, appID := range appIDs {
		payout, err := s.createPayoutTx(tx, user, appID, payoutType)
		if err == errors.ErrNothingToClaim || err == errors.ErrClaimInFlight {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = append(created, payout)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, payout := range created {
		go s.settle(payout)
	}
	return created, nil
}

func (s *Service) createPayoutTx(tx *sql.Tx, user *models.User, appID, payoutType string) (*models.Payout, error) {
	claimable, err := s.claimableTx(tx, user.ID, appID, payoutType)
	if err != nil {
		return nil, err
	}
	if claimable == 0 {
		return nil, errors.ErrNothingToClaim
	}

	now := time.Now().Unix()
	payout := &models.Payout{
		ID:                    "pay_" + uuid.NewString(),
		UserID:                user.ID,
		AppID:                 &appID,
		Type:                  payoutType,
		Amount:                claimable,
		Status:                models.PayoutStatusPending,
		RecipientGithubLinkID: user.GithubLinkID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.payouts.CreateTx(tx, payout); err != nil {
		return nil, err
	}

	log.Info().
		Str("payout_id", payout.ID).
		Str("user_id", user.ID).
		Str("app_id", appID).
		Str("type", payoutType).
		Int64("amount", int64(claimable)).
		Msg("payout claimed")
	return payout, nil
}

// PollSettlement is the cheap "has it completed?" read the client uses
// after a claim. It never talks to the rail.
func (s *Service) PollSettlement(payoutID string) (bool, error) {
	payout, err := s.payouts.GetByID(payoutID)
	if err != nil {
		return false, err
	}
	if payout == nil {
		return false, errors.ErrNotFound
	}
	return payout.Status == models.PayoutStatusCompleted, nil
}

// settle runs off the request path: create the transfer, then poll the rail
// a bounded number of times, stopping early on Close. Anything still pending
// afterwards is picked up by the reconciliation sweep.
func (s *Service) settle(payout *models.Payout) {
	reference, err := s.rail.CreateTransfer(payout, payout.RecipientGithubLinkID)
	if err != nil {
		log.Error().Err(err).Str("payout_id", payout.ID).Msg("settlement: transfer creation failed")
		return
	}
	if err := s.payouts.SetRailReference(payout.ID, reference); err != nil {
		log.Error().Err(err).Str("payout_id", payout.ID).Msg("settlement: failed to record reference")
		return
	}

	for attempt := 0; attempt < s.cfg.PollAttempts; attempt++ {
		select {
		case <-time.After(s.cfg.PollInterval):
		case <-s.ctx.Done():
			return
		}

		settled, err := s.rail.CheckSettlement(reference)
		if err != nil {
			log.Error().Err(err).Str("payout_id", payout.ID).Msg("settlement: poll failed")
			continue
		}
		if settled {
			s.complete(payout.ID)
			return
		}
	}
	log.Info().Str("payout_id", payout.ID).Msg("settlement: poll budget exhausted, leaving to sweep")
}

// ReconcilePending sweeps every pending payout: creates missing transfers
// and completes payouts whose settlement has been observed. Run
// periodically by the worker.
func (s *Service) ReconcilePending() error {
	pending, err := s.payouts.ListPending(500)
	if err != nil {
		return err
	}

	for _, payout := range pending {
		if payout.TransactionID == nil {
			reference, err := s.rail.CreateTransfer(payout, payout.RecipientGithubLinkID)
			if err != nil {
				log.Error().Err(err).Str("payout_id", payout.ID).Msg("reconcile: transfer creation failed")
				continue
			}
			if err := s.payouts.SetRailReference(payout.ID, reference); err != nil {
				log.Error().Err(err).Str("payout_id", payout.ID).Msg("reconcile: failed to record reference")
			}
			continue
		}

		settled, err := s.rail.CheckSettlement(*payout.TransactionID)
		if err != nil {
			log.Error().Err(err).Str("payout_id", payout.ID).Msg("reconcile: settlement check failed")
			continue
		}
		if settled {
			s.complete(payout.ID)
		}
	}
	return nil
}

func (s *Service) complete(payoutID string) {
	updated, err := s.payouts.MarkCompleted(payoutID)
	if err != nil {
		log.Error().Err(err).Str("payout_id", payoutID).Msg("settlement: completion write failed")
		return
	}
	if updated {
		log.Info().Str("payout_id", payoutID).Msg("payout completed")
	}
}
