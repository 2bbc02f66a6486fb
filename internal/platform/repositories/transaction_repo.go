package repositories

import (
	"database/sql"

	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type TransactionRepository struct {
	db *database.DB
}

func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

func (r *TransactionRepository) InsertTx(tx *sql.Tx, t *models.Transaction) error {
	query := r.db.Rebind(`
		INSERT INTO transactions (id, user_id, app_id, api_key_id, model, input_tokens, output_tokens,
			total_tokens, raw_cost, app_profit, mark_up_profit, referral_profit, referral_code_id,
			is_archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := tx.Exec(query, t.ID, t.UserID, t.AppID, t.APIKeyID, t.Model, t.InputTokens,
		t.OutputTokens, t.TotalTokens, t.RawCost, t.AppProfit, t.MarkUpProfit, t.ReferralProfit,
		t.ReferralCodeID, t.IsArchived, t.CreatedAt)
	return err
}

const transactionColumns = `id, user_id, app_id, api_key_id, model, input_tokens, output_tokens,
	total_tokens, raw_cost, app_profit, mark_up_profit, referral_profit, referral_code_id,
	is_archived, created_at`

func (r *TransactionRepository) ListByUser(userID string, limit, offset int) ([]*models.Transaction, error) {
	query := r.db.Rebind(`
		SELECT ` + transactionColumns + `
		FROM transactions WHERE user_id = ? AND is_archived = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`)
	rows, err := r.db.Query(query, userID, false, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		t := &models.Transaction{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.AppID, &t.APIKeyID, &t.Model, &t.InputTokens,
			&t.OutputTokens, &t.TotalTokens, &t.RawCost, &t.AppProfit, &t.MarkUpProfit,
			&t.ReferralProfit, &t.ReferralCodeID, &t.IsArchived, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// GrossMarkupProfitTx sums markup earnings recorded for an app across every
// consumer's transactions. Archived rows are excluded from all aggregates.
func (r *TransactionRepository) GrossMarkupProfitTx(tx *sql.Tx, appID string) (models.Micros, error) {
	query := r.db.Rebind(`
		SELECT COALESCE(SUM(mark_up_profit), 0) FROM transactions
		WHERE app_id = ? AND is_archived = ?
	`)
	var gross models.Micros
	err := tx.QueryRow(query, appID, false).Scan(&gross)
	return gross, err
}

// GrossReferralProfitTx sums referral earnings attributed to codes owned by
// the given user for the given app.
func (r *TransactionRepository) GrossReferralProfitTx(tx *sql.Tx, userID, appID string) (models.Micros, error) {
	query := r.db.Rebind(`
		SELECT COALESCE(SUM(t.referral_profit), 0)
		FROM transactions t
		JOIN referral_codes rc ON rc.id = t.referral_code_id
		WHERE rc.user_id = ? AND t.app_id = ? AND t.is_archived = ?
	`)
	var gross models.Micros
	err := tx.QueryRow(query, userID, appID, false).Scan(&gross)
	return gross, err
}

// AppsWithReferralProfit lists app ids where codes owned by the user have
// accrued referral earnings.
func (r *TransactionRepository) AppsWithReferralProfit(userID string) ([]string, error) {
	query := r.db.Rebind(`
		SELECT DISTINCT t.app_id
		FROM transactions t
		JOIN referral_codes rc ON rc.id = t.referral_code_id
		WHERE rc.user_id = ? AND t.is_archived = ? AND t.referral_profit > 0
	`)
	rows, err := r.db.Query(query, userID, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		appIDs = append(appIDs, id)
	}
	return appIDs, rows.Err()
}

func (r *TransactionRepository) Archive(id string) error {
	query := r.db.Rebind(`UPDATE transactions SET is_archived = ? WHERE id = ?`)
	_, err := r.db.Exec(query, true, id)
	return err
}
