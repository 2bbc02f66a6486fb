package repositories

import (
	"database/sql"

	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

// OAuthRepository persists authorization codes and refresh tokens. The
// single-use and rotation invariants live in the conditional UPDATEs here;
// callers own the surrounding transaction.
type OAuthRepository struct {
	db *database.DB
}

func NewOAuthRepository(db *database.DB) *OAuthRepository {
	return &OAuthRepository{db: db}
}

func (r *OAuthRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

func (r *OAuthRepository) CreateCode(code *models.AuthorizationCode) error {
	query := r.db.Rebind(`
		INSERT INTO authorization_codes (code, app_id, user_id, redirect_uri, code_challenge, challenge_method, scope, expires_at, consumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.Exec(query, code.Code, code.AppID, code.UserID, code.RedirectURI,
		code.CodeChallenge, code.ChallengeMethod, code.Scope, code.ExpiresAt, code.Consumed, code.CreatedAt)
	return err
}

func (r *OAuthRepository) GetCode(code string) (*models.AuthorizationCode, error) {
	query := r.db.Rebind(`
		SELECT code, app_id, user_id, redirect_uri, code_challenge, challenge_method, scope, expires_at, consumed, created_at
		FROM authorization_codes WHERE code = ?
	`)
	c := &models.AuthorizationCode{}
	err := r.db.QueryRow(query, code).Scan(&c.Code, &c.AppID, &c.UserID, &c.RedirectURI,
		&c.CodeChallenge, &c.ChallengeMethod, &c.Scope, &c.ExpiresAt, &c.Consumed, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ConsumeCodeTx flips consumed false to true. Zero rows affected means a
// second exchange raced this one; the caller must fail the grant.
func (r *OAuthRepository) ConsumeCodeTx(tx *sql.Tx, code string) (bool, error) {
	query := r.db.Rebind(`UPDATE authorization_codes SET consumed = ? WHERE code = ? AND consumed = ?`)
	res, err := tx.Exec(query, true, code, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OAuthRepository) CreateRefreshTx(tx *sql.Tx, token *models.RefreshToken) error {
	query := r.db.Rebind(`
		INSERT INTO refresh_tokens (token_hash, user_id, app_id, scope, expires_at, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := tx.Exec(query, token.TokenHash, token.UserID, token.AppID, token.Scope,
		token.ExpiresAt, token.IsActive, token.CreatedAt)
	return err
}

func (r *OAuthRepository) GetRefreshByHash(hash string) (*models.RefreshToken, error) {
	query := r.db.Rebind(`
		SELECT token_hash, user_id, app_id, scope, expires_at, is_active, created_at
		FROM refresh_tokens WHERE token_hash = ?
	`)
	t := &models.RefreshToken{}
	err := r.db.QueryRow(query, hash).Scan(&t.TokenHash, &t.UserID, &t.AppID, &t.Scope,
		&t.ExpiresAt, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// DeactivateRefreshTx retires the predecessor during rotation. Zero rows
// affected means another request already rotated this token: a replay.
func (r *OAuthRepository) DeactivateRefreshTx(tx *sql.Tx, hash string) (bool, error) {
	query := r.db.Rebind(`UPDATE refresh_tokens SET is_active = ? WHERE token_hash = ? AND is_active = ?`)
	res, err := tx.Exec(query, false, hash, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeactivateRefresh soft-invalidates outside a rotation, e.g. when a lookup
// finds a token past its expiry.
func (r *OAuthRepository) DeactivateRefresh(hash string) error {
	query := r.db.Rebind(`UPDATE refresh_tokens SET is_active = ? WHERE token_hash = ?`)
	_, err := r.db.Exec(query, false, hash)
	return err
}

// DeleteExpiredCodes removes codes past their expiry. Expiry is already
// enforced at read time; this only keeps the table from growing unbounded.
func (r *OAuthRepository) DeleteExpiredCodes(before int64) (int64, error) {
	query := r.db.Rebind(`DELETE FROM authorization_codes WHERE expires_at < ?`)
	res, err := r.db.Exec(query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OAuthRepository) DeleteExpiredRefresh(before int64) (int64, error) {
	query := r.db.Rebind(`DELETE FROM refresh_tokens WHERE expires_at < ?`)
	res, err := r.db.Exec(query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
