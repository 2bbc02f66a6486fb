package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type APIKeyRepository struct {
	db *database.DB
}

func NewAPIKeyRepository(db *database.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	key.CreatedAt = time.Now().Unix()

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`
		INSERT INTO api_keys (id, user_id, app_id, name, key_hash, key_prefix, scopes, created_at, expires_at, is_archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.Exec(query, key.ID, key.UserID, key.AppID, key.Name, key.KeyHash,
		key.KeyPrefix, string(scopesJSON), key.CreatedAt, key.ExpiresAt, key.IsArchived)
	return err
}

func (r *APIKeyRepository) GetByHash(hash string) (*models.APIKey, error) {
	query := r.db.Rebind(`
		SELECT id, user_id, app_id, name, key_prefix, scopes, created_at, expires_at, revoked_at, is_archived
		FROM api_keys WHERE key_hash = ?
	`)
	row := r.db.QueryRow(query, hash)

	var k models.APIKey
	var scopesStr string
	var expiresAt, revokedAt sql.NullInt64

	err := row.Scan(&k.ID, &k.UserID, &k.AppID, &k.Name, &k.KeyPrefix, &scopesStr,
		&k.CreatedAt, &expiresAt, &revokedAt, &k.IsArchived)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Int64
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Int64
	}

	json.Unmarshal([]byte(scopesStr), &k.Scopes)
	k.KeyHash = hash

	return &k, nil
}

func (r *APIKeyRepository) ListByUser(userID string) ([]*models.APIKey, error) {
	query := r.db.Rebind(`
		SELECT id, app_id, name, key_prefix, scopes, created_at, expires_at, revoked_at, is_archived
		FROM api_keys WHERE user_id = ? ORDER BY created_at DESC
	`)
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		var scopesStr string
		var expiresAt, revokedAt sql.NullInt64

		if err := rows.Scan(&k.ID, &k.AppID, &k.Name, &k.KeyPrefix, &scopesStr,
			&k.CreatedAt, &expiresAt, &revokedAt, &k.IsArchived); err != nil {
			return nil, err
		}

		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Int64
		}
		if revokedAt.Valid {
			k.RevokedAt = &revokedAt.Int64
		}
		json.Unmarshal([]byte(scopesStr), &k.Scopes)
		k.UserID = userID
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Revoke(id string) error {
	query := r.db.Rebind(`UPDATE api_keys SET revoked_at = ? WHERE id = ?`)
	_, err := r.db.Exec(query, time.Now().Unix(), id)
	return err
}

func (r *APIKeyRepository) UpdateLastUsed(id string) error {
	query := r.db.Rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`)
	_, err := r.db.Exec(query, time.Now().Unix(), id)
	return err
}
