package repositories

import (
	"database/sql"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type FreeTierRepository struct {
	db *database.DB
}

func NewFreeTierRepository(db *database.DB) *FreeTierRepository {
	return &FreeTierRepository{db: db}
}

func (r *FreeTierRepository) Create(pool *models.FreeTierPool) error {
	query := r.db.Rebind(`
		INSERT INTO free_tier_pools (id, app_id, total_funded, total_spent, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.Exec(query, pool.ID, pool.AppID, pool.TotalFunded, pool.TotalSpent,
		pool.IsActive, pool.CreatedAt)
	return err
}

// DebitTx debits the app's active pool, or reports errors.ErrPoolExhausted
// when there is no active pool or its allowance cannot cover the amount.
// The caller falls through to the user's own balance on exhaustion.
func (r *FreeTierRepository) DebitTx(tx *sql.Tx, appID string, amount models.Micros) error {
	query := r.db.Rebind(`
		UPDATE free_tier_pools SET total_spent = total_spent + ?
		WHERE app_id = ? AND is_active = ? AND total_funded - total_spent >= ?
	`)
	res, err := tx.Exec(query, amount, appID, true, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrPoolExhausted
	}
	return nil
}

func (r *FreeTierRepository) GetActiveByApp(appID string) (*models.FreeTierPool, error) {
	query := r.db.Rebind(`
		SELECT id, app_id, total_funded, total_spent, is_active, created_at
		FROM free_tier_pools WHERE app_id = ? AND is_active = ?
	`)
	p := &models.FreeTierPool{}
	err := r.db.QueryRow(query, appID, true).Scan(&p.ID, &p.AppID, &p.TotalFunded,
		&p.TotalSpent, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}
