package repositories

import (
	"database/sql"

	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type ReferralRepository struct {
	db *database.DB
}

func NewReferralRepository(db *database.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) CreateCode(code *models.ReferralCode) error {
	query := r.db.Rebind(`
		INSERT INTO referral_codes (id, code, user_id, app_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	_, err := r.db.Exec(query, code.ID, code.Code, code.UserID, code.AppID, code.CreatedAt)
	return err
}

func (r *ReferralRepository) GetByCode(code string) (*models.ReferralCode, error) {
	query := r.db.Rebind(`
		SELECT id, code, user_id, app_id, created_at FROM referral_codes WHERE code = ?
	`)
	return r.scanCode(r.db.QueryRow(query, code))
}

func (r *ReferralRepository) GetByID(id string) (*models.ReferralCode, error) {
	query := r.db.Rebind(`
		SELECT id, code, user_id, app_id, created_at FROM referral_codes WHERE id = ?
	`)
	return r.scanCode(r.db.QueryRow(query, id))
}

func (r *ReferralRepository) scanCode(row *sql.Row) (*models.ReferralCode, error) {
	c := &models.ReferralCode{}
	err := row.Scan(&c.ID, &c.Code, &c.UserID, &c.AppID, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// Bind attaches a referral code to the user's future calls through an app.
// Re-binding replaces the previous attribution.
func (r *ReferralRepository) Bind(binding *models.ReferralBinding) error {
	del := r.db.Rebind(`DELETE FROM referral_bindings WHERE user_id = ? AND app_id = ?`)
	if _, err := r.db.Exec(del, binding.UserID, binding.AppID); err != nil {
		return err
	}
	ins := r.db.Rebind(`
		INSERT INTO referral_bindings (user_id, app_id, referral_code_id, created_at)
		VALUES (?, ?, ?, ?)
	`)
	_, err := r.db.Exec(ins, binding.UserID, binding.AppID, binding.ReferralCodeID, binding.CreatedAt)
	return err
}

// GetBinding returns the referral code bound to this user/app pair, or nil
// when the user's calls carry no attribution.
func (r *ReferralRepository) GetBinding(userID, appID string) (*models.ReferralCode, error) {
	query := r.db.Rebind(`
		SELECT rc.id, rc.code, rc.user_id, rc.app_id, rc.created_at
		FROM referral_bindings rb
		JOIN referral_codes rc ON rc.id = rb.referral_code_id
		WHERE rb.user_id = ? AND rb.app_id = ?
	`)
	return r.scanCode(r.db.QueryRow(query, userID, appID))
}
