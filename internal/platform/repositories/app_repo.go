package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type AppRepository struct {
	db *database.DB
}

func NewAppRepository(db *database.DB) *AppRepository {
	return &AppRepository{db: db}
}

func (r *AppRepository) Create(app *models.App) error {
	uris, err := json.Marshal(app.RedirectURIs)
	if err != nil {
		return err
	}
	query := r.db.Rebind(`
		INSERT INTO apps (id, owner_user_id, name, redirect_uris, is_active, total_raw_cost, total_charged, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.Exec(query, app.ID, app.OwnerUserID, app.Name, string(uris), app.IsActive,
		app.TotalRawCost, app.TotalCharged, app.CreatedAt, app.UpdatedAt)
	return err
}

func (r *AppRepository) GetByID(id string) (*models.App, error) {
	query := r.db.Rebind(`
		SELECT id, owner_user_id, name, redirect_uris, is_active, total_raw_cost, total_charged, created_at, updated_at
		FROM apps WHERE id = ?
	`)
	app := &models.App{}
	var uris string
	err := r.db.QueryRow(query, id).Scan(&app.ID, &app.OwnerUserID, &app.Name, &uris,
		&app.IsActive, &app.TotalRawCost, &app.TotalCharged, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(uris), &app.RedirectURIs); err != nil {
		return nil, err
	}
	return app, nil
}

func (r *AppRepository) ListByOwner(ownerUserID string) ([]*models.App, error) {
	query := r.db.Rebind(`
		SELECT id, owner_user_id, name, redirect_uris, is_active, total_raw_cost, total_charged, created_at, updated_at
		FROM apps WHERE owner_user_id = ? ORDER BY created_at DESC
	`)
	rows, err := r.db.Query(query, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*models.App
	for rows.Next() {
		app := &models.App{}
		var uris string
		if err := rows.Scan(&app.ID, &app.OwnerUserID, &app.Name, &uris, &app.IsActive,
			&app.TotalRawCost, &app.TotalCharged, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(uris), &app.RedirectURIs); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// AddUsageTx keeps the app's running aggregates in step with the ledger,
// inside the same transaction that writes the Transaction row.
func (r *AppRepository) AddUsageTx(tx *sql.Tx, appID string, rawCost, charged models.Micros) error {
	query := r.db.Rebind(`
		UPDATE apps SET total_raw_cost = total_raw_cost + ?, total_charged = total_charged + ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := tx.Exec(query, rawCost, charged, time.Now().Unix(), appID)
	return err
}
