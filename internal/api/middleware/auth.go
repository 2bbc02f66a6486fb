package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/repositories"
)

// APIKeyPrefix distinguishes static keys from JWTs in the bearer slot.
const APIKeyPrefix = "tgk_"

// AuthMiddleware resolves a bearer credential (JWT access token or API key)
// into a Principal. Both failure paths answer with the same invalid_token
// shape so callers cannot probe which check failed.
type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	keys     *repositories.APIKeyRepository
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, keys *repositories.APIKeyRepository) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, keys: keys}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteOAuthError(w, http.StatusUnauthorized, "invalid_request", "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteOAuthError(w, http.StatusUnauthorized, "invalid_request", "Invalid authorization header format")
			return
		}

		var principal *auth.Principal
		if strings.HasPrefix(parts[1], APIKeyPrefix) {
			principal = m.resolveAPIKey(parts[1])
		} else {
			principal = m.resolveJWT(parts[1])
		}
		if principal == nil {
			errors.WriteOAuthError(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Principal, principal)
		next(w, r.WithContext(ctx))
	}
}

func (m *AuthMiddleware) resolveJWT(token string) *auth.Principal {
	claims, err := m.tokenSvc.ValidateToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("bearer token rejected")
		return nil
	}
	return &auth.Principal{
		UserID: claims.Subject,
		AppID:  claims.AppID,
		Role:   claims.Role,
		Scopes: claims.Scopes,
	}
}

func (m *AuthMiddleware) resolveAPIKey(rawKey string) *auth.Principal {
	sum := sha256.Sum256([]byte(rawKey))
	key, err := m.keys.GetByHash(hex.EncodeToString(sum[:]))
	if err != nil {
		log.Error().Err(err).Msg("api key lookup failed")
		return nil
	}
	if key == nil || key.RevokedAt != nil || key.IsArchived {
		log.Debug().Msg("api key rejected")
		return nil
	}
	if key.ExpiresAt != nil && *key.ExpiresAt < time.Now().Unix() {
		log.Debug().Str("key_id", key.ID).Msg("api key expired")
		return nil
	}

	go m.keys.UpdateLastUsed(key.ID)

	keyID := key.ID
	return &auth.Principal{
		UserID:   key.UserID,
		AppID:    key.AppID,
		Role:     "user",
		Scopes:   key.Scopes,
		APIKeyID: &keyID,
	}
}
