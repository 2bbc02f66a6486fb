package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"tollgate/internal/platform/config"
)

// Claims is the payload of a stateless access token. KeyVersion names the
// signing secret so key rotation does not invalidate live tokens.
type Claims struct {
	AppID      string   `json:"app,omitempty"`
	Role       string   `json:"role,omitempty"`
	Scopes     []string `json:"scp"`
	KeyVersion string   `json:"kv"`
	jwt.RegisteredClaims
}

type TokenService struct {
	config config.JWTConfig
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg}
}

// GenerateAccessToken mints a short-lived HS256 token for the given
// principal. appID is empty for first-party platform sessions.
func (s *TokenService) GenerateAccessToken(userID, appID, role string, scopes []string) (string, int64, error) {
	secret, ok := s.config.Keys[s.config.ActiveKeyVersion]
	if !ok {
		return "", 0, fmt.Errorf("no signing secret for active key version %q", s.config.ActiveKeyVersion)
	}

	now := time.Now()
	claims := Claims{
		AppID:      appID,
		Role:       role,
		Scopes:     scopes,
		KeyVersion: s.config.ActiveKeyVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.config.AccessTokenTTL.Seconds()), nil
}

// ValidateToken verifies the signature against the secret named by the kv
// claim and checks expiry. Callers get one error regardless of whether the
// token was malformed, expired, or signed with an unknown key.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		secret, ok := s.config.Keys[claims.KeyVersion]
		if !ok {
			return nil, fmt.Errorf("unknown key version %q", claims.KeyVersion)
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
