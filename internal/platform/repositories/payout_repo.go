package repositories

import (
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type PayoutRepository struct {
	db *database.DB
}

func NewPayoutRepository(db *database.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

const payoutColumns = `id, user_id, app_id, type, amount, status, recipient_github_link_id,
	transaction_id, sender_address, created_at, updated_at`

// CreateTx inserts a pending payout. A partial unique index on
// (user_id, app_id, type) WHERE status = 'pending' turns a concurrent
// double-claim into ErrClaimInFlight instead of double-counting.
func (r *PayoutRepository) CreateTx(tx *sql.Tx, p *models.Payout) error {
	query := r.db.Rebind(`
		INSERT INTO payouts (id, user_id, app_id, type, amount, status, recipient_github_link_id,
			transaction_id, sender_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := tx.Exec(query, p.ID, p.UserID, p.AppID, p.Type, p.Amount, p.Status,
		p.RecipientGithubLinkID, p.TransactionID, p.SenderAddress, p.CreatedAt, p.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return errors.ErrClaimInFlight
	}
	return err
}

func (r *PayoutRepository) GetByID(id string) (*models.Payout, error) {
	query := r.db.Rebind(`SELECT ` + payoutColumns + ` FROM payouts WHERE id = ?`)
	p := &models.Payout{}
	err := r.db.QueryRow(query, id).Scan(&p.ID, &p.UserID, &p.AppID, &p.Type, &p.Amount,
		&p.Status, &p.RecipientGithubLinkID, &p.TransactionID, &p.SenderAddress,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// SumClaimedTx totals every payout ever created for the tuple, pending or
// completed; claims are bounded by gross minus this figure.
func (r *PayoutRepository) SumClaimedTx(tx *sql.Tx, userID, appID, payoutType string) (models.Micros, error) {
	query := r.db.Rebind(`
		SELECT COALESCE(SUM(amount), 0) FROM payouts
		WHERE user_id = ? AND app_id = ? AND type = ?
	`)
	var claimed models.Micros
	err := tx.QueryRow(query, userID, appID, payoutType).Scan(&claimed)
	return claimed, err
}

func (r *PayoutRepository) ListPending(limit int) ([]*models.Payout, error) {
	query := r.db.Rebind(`
		SELECT ` + payoutColumns + ` FROM payouts
		WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`)
	rows, err := r.db.Query(query, models.PayoutStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		p := &models.Payout{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.AppID, &p.Type, &p.Amount, &p.Status,
			&p.RecipientGithubLinkID, &p.TransactionID, &p.SenderAddress,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// SetRailReference records the payment rail's transfer reference once the
// transfer exists, so reconciliation can find it again.
func (r *PayoutRepository) SetRailReference(id, reference string) error {
	query := r.db.Rebind(`UPDATE payouts SET transaction_id = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.Exec(query, reference, time.Now().Unix(), id)
	return err
}

// MarkCompleted transitions pending to completed exactly once. Re-observing
// a settlement after completion affects zero rows and is a no-op.
func (r *PayoutRepository) MarkCompleted(id string) (bool, error) {
	query := r.db.Rebind(`UPDATE payouts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
	res, err := r.db.Exec(query, models.PayoutStatusCompleted, time.Now().Unix(), id, models.PayoutStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
