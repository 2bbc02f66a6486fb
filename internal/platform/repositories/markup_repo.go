package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type MarkUpRepository struct {
	db *database.DB
}

func NewMarkUpRepository(db *database.DB) *MarkUpRepository {
	return &MarkUpRepository{db: db}
}

// GetActiveByApp returns the one unarchived markup row for the app, or nil
// when the app has never set one (multiplier 1.0x).
func (r *MarkUpRepository) GetActiveByApp(appID string) (*models.MarkUp, error) {
	query := r.db.Rebind(`
		SELECT id, app_id, amount_bps, is_archived, created_at
		FROM mark_ups WHERE app_id = ? AND is_archived = ?
	`)
	m := &models.MarkUp{}
	err := r.db.QueryRow(query, appID, false).Scan(&m.ID, &m.AppID, &m.AmountBps, &m.IsArchived, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// Set archives the previous row and inserts the new multiplier in one
// transaction, preserving the markup history.
func (r *MarkUpRepository) Set(appID string, amountBps int64) (*models.MarkUp, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	archive := r.db.Rebind(`UPDATE mark_ups SET is_archived = ? WHERE app_id = ? AND is_archived = ?`)
	if _, err := tx.Exec(archive, true, appID, false); err != nil {
		return nil, err
	}

	m := &models.MarkUp{
		ID:        "mkp_" + uuid.NewString(),
		AppID:     appID,
		AmountBps: amountBps,
		CreatedAt: time.Now().Unix(),
	}
	insert := r.db.Rebind(`
		INSERT INTO mark_ups (id, app_id, amount_bps, is_archived, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := tx.Exec(insert, m.ID, m.AppID, m.AmountBps, m.IsArchived, m.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}
