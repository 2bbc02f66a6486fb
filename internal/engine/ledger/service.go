package ledger

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

// FreeTierPool is the external pool collaborator. Its whole contract is:
// debit the app's pool inside the caller's transaction, or report
// errors.ErrPoolExhausted so the caller charges the user instead.
type FreeTierPool interface {
	DebitTx(tx *sql.Tx, appID string, amount models.Micros) error
}

// Service is the usage metering ledger. Every billable call becomes exactly
// one immutable Transaction written atomically with the balance debit.
type Service struct {
	prices       *PriceTable
	policy       *SplitPolicy
	apps         *repositories.AppRepository
	users        *repositories.UserRepository
	markups      *repositories.MarkUpRepository
	referrals    *repositories.ReferralRepository
	transactions *repositories.TransactionRepository
	pool         FreeTierPool
}

func NewService(prices *PriceTable, policy *SplitPolicy, apps *repositories.AppRepository,
	users *repositories.UserRepository, markups *repositories.MarkUpRepository,
	referrals *repositories.ReferralRepository, transactions *repositories.TransactionRepository,
	pool FreeTierPool) *Service {
	return &Service{
		prices:       prices,
		policy:       policy,
		apps:         apps,
		users:        users,
		markups:      markups,
		referrals:    referrals,
		transactions: transactions,
		pool:         pool,
	}
}

// RecordUsage prices the call, applies the app's markup, splits the margin
// and commits the transaction row together with the debit. A call that
// cannot be priced is rejected before metering; a call the balance cannot
// cover aborts the whole unit with errors.ErrInsufficientBalance.
func (s *Service) RecordUsage(principal auth.Principal, usage Usage) (*models.Transaction, error) {
	rawCost, err := s.prices.Cost(usage)
	if err != nil {
		return nil, err
	}

	markupBps := int64(models.BpsScale)
	markup, err := s.markups.GetActiveByApp(principal.AppID)
	if err != nil {
		return nil, err
	}
	if markup != nil {
		markupBps = markup.AmountBps
	}
	charged := rawCost.MulBps(markupBps)

	referral, err := s.referrals.GetBinding(principal.UserID, principal.AppID)
	if err != nil {
		return nil, err
	}

	appProfit, markUpProfit, referralProfit := s.policy.Split(rawCost, charged, referral != nil)

	txn := &models.Transaction{
		ID:             "txn_" + uuid.NewString(),
		UserID:         principal.UserID,
		AppID:          principal.AppID,
		APIKeyID:       principal.APIKeyID,
		Model:          usage.Model,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		TotalTokens:    usage.TotalTokens(),
		RawCost:        rawCost,
		AppProfit:      appProfit,
		MarkUpProfit:   markUpProfit,
		ReferralProfit: referralProfit,
		CreatedAt:      time.Now().Unix(),
	}
	if referral != nil {
		txn.ReferralCodeID = &referral.ID
	}

	tx, err := s.transactions.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.transactions.InsertTx(tx, txn); err != nil {
		return nil, err
	}

	if err := s.debitTx(tx, principal, charged); err != nil {
		return nil, err
	}

	if err := s.apps.AddUsageTx(tx, principal.AppID, rawCost, charged); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", txn.ID).
		Str("user_id", principal.UserID).
		Str("app_id", principal.AppID).
		Int64("raw_cost", int64(rawCost)).
		Int64("charged", int64(charged)).
		Msg("usage recorded")
	return txn, nil
}

// debitTx tries the app's free-tier pool first, then the user's balance.
func (s *Service) debitTx(tx *sql.Tx, principal auth.Principal, charged models.Micros) error {
	err := s.pool.DebitTx(tx, principal.AppID, charged)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, errors.ErrPoolExhausted) {
		return err
	}

	ok, err := s.users.DebitTx(tx, principal.UserID, charged)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrInsufficientBalance
	}
	return nil
}
