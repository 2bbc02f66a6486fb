package oauth

import (
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

const oauthSchema = `
CREATE TABLE users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL DEFAULT '',
	full_name TEXT NOT NULL DEFAULT '',
	preferred_username TEXT NOT NULL DEFAULT '',
	given_name TEXT NOT NULL DEFAULT '',
	family_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	github_link_id TEXT NOT NULL DEFAULT '',
	total_paid BIGINT NOT NULL DEFAULT 0,
	total_spent BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE apps (
	id TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	redirect_uris TEXT NOT NULL DEFAULT '[]',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	total_raw_cost BIGINT NOT NULL DEFAULT 0,
	total_charged BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE authorization_codes (
	code TEXT PRIMARY KEY,
	app_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	code_challenge TEXT NOT NULL,
	challenge_method TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	expires_at BIGINT NOT NULL,
	consumed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL
);
CREATE TABLE refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	expires_at BIGINT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);
`

const (
	testRedirectURI = "https://client.example.com/callback"
	testVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-challenge"
)

func testChallenge() string {
	sum := sha256.Sum256([]byte(testVerifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func setupOAuth(t *testing.T) *Service {
	raw, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { raw.Close() })

	if _, err := raw.Exec(oauthSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	db := database.Wrap(raw, "sqlite3")
	users := repositories.NewUserRepository(db)
	apps := repositories.NewAppRepository(db)
	store := repositories.NewOAuthRepository(db)

	now := time.Now().Unix()
	user := &models.User{
		ID: "usr_1", Email: "owner@example.com", EmailVerified: true,
		FullName: "Resource Owner", Role: "user", CreatedAt: now, UpdatedAt: now,
	}
	if err := users.Create(user); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	app := &models.App{
		ID: "app_1", OwnerUserID: "usr_2", Name: "Client",
		RedirectURIs: []string{testRedirectURI},
		IsActive:     true, CreatedAt: now, UpdatedAt: now,
	}
	if err := apps.Create(app); err != nil {
		t.Fatalf("Failed to seed app: %v", err)
	}
	// Registered before URI validation existed; the stored URI is garbage.
	legacy := &models.App{
		ID: "app_legacy", OwnerUserID: "usr_2", Name: "Legacy",
		RedirectURIs: []string{"https://legacy.example.com/cb\n"},
		IsActive:     true, CreatedAt: now, UpdatedAt: now,
	}
	if err := apps.Create(legacy); err != nil {
		t.Fatalf("Failed to seed legacy app: %v", err)
	}

	tokens := auth.NewTokenService(config.JWTConfig{
		Keys:             map[string]string{"v1": "test-secret"},
		ActiveKeyVersion: "v1",
		AccessTokenTTL:   15 * time.Minute,
		Issuer:           "test",
	})
	return NewService(apps, users, store, tokens, config.OAuthConfig{
		CodeTTL:         5 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	})
}

func authorize(t *testing.T, svc *Service, scope string) string {
	redirectURL, oErr := svc.Authorize(AuthorizeRequest{
		ClientID:        "app_1",
		RedirectURI:     testRedirectURI,
		State:           "xyz",
		CodeChallenge:   testChallenge(),
		ChallengeMethod: auth.MethodS256,
		Scope:           scope,
		UserID:          "usr_1",
	})
	if oErr != nil {
		t.Fatalf("Authorize: %v", oErr)
	}

	u, err := url.Parse(redirectURL)
	if err != nil {
		t.Fatalf("Bad redirect URL: %v", err)
	}
	if u.Query().Get("state") != "xyz" {
		t.Errorf("State not echoed back")
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatal("No code in redirect")
	}
	return code
}

func TestAuthorizeAndExchange(t *testing.T) {
	svc := setupOAuth(t)
	code := authorize(t, svc, "llm:invoke offline_access")

	resp, oErr := svc.Exchange(TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "app_1",
		CodeVerifier: testVerifier,
	})
	if oErr != nil {
		t.Fatalf("Exchange: %v", oErr)
	}

	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Error("Missing access token")
	}
	if resp.RefreshToken == "" {
		t.Error("offline_access should yield a refresh token")
	}
	if !strings.HasPrefix(resp.RefreshToken, "tgr_") {
		t.Errorf("Unexpected refresh token format: %s", resp.RefreshToken)
	}
	if resp.User == nil || resp.User.ID != "usr_1" {
		t.Error("Response should carry the resource owner")
	}
}

func TestExchange_NoRefreshWithoutOfflineAccess(t *testing.T) {
	svc := setupOAuth(t)
	code := authorize(t, svc, "llm:invoke")

	resp, oErr := svc.Exchange(TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "app_1",
		CodeVerifier: testVerifier,
	})
	if oErr != nil {
		t.Fatalf("Exchange: %v", oErr)
	}
	if resp.RefreshToken != "" {
		t.Error("Refresh token issued without offline_access")
	}
}

func TestAuthorize_PlainMethodRejected(t *testing.T) {
	svc := setupOAuth(t)

	_, oErr := svc.Authorize(AuthorizeRequest{
		ClientID:        "app_1",
		RedirectURI:     testRedirectURI,
		CodeChallenge:   testChallenge(),
		ChallengeMethod: "plain",
		UserID:          "usr_1",
	})
	if oErr == nil || oErr.Code != "invalid_request" {
		t.Fatalf("Expected invalid_request, got %v", oErr)
	}
	// The redirect URI was validated first, so the error travels with it.
	if oErr.RedirectURL == "" {
		t.Error("Error after redirect validation should carry a redirect URL")
	}
}

func TestAuthorize_UnregisteredRedirectNeverRedirects(t *testing.T) {
	svc := setupOAuth(t)

	_, oErr := svc.Authorize(AuthorizeRequest{
		ClientID:        "app_1",
		RedirectURI:     "https://evil.example.com/cb",
		CodeChallenge:   testChallenge(),
		ChallengeMethod: auth.MethodS256,
		UserID:          "usr_1",
	})
	if oErr == nil {
		t.Fatal("Expected error for unregistered redirect")
	}
	if oErr.RedirectURL != "" {
		t.Error("Must not redirect errors to an unregistered URI")
	}
}

func TestAuthorize_UnparseableStoredRedirectRenderedInProduct(t *testing.T) {
	svc := setupOAuth(t)

	redirectURL, oErr := svc.Authorize(AuthorizeRequest{
		ClientID:        "app_legacy",
		RedirectURI:     "https://legacy.example.com/cb\n",
		CodeChallenge:   testChallenge(),
		ChallengeMethod: auth.MethodS256,
		Scope:           "llm:invoke",
		UserID:          "usr_1",
	})
	if oErr == nil {
		t.Fatal("Expected error for an unparseable redirect URI")
	}
	if oErr.RedirectURL != "" {
		t.Error("An unparseable redirect URI must never be redirected to")
	}
	if redirectURL != "" {
		t.Error("No success redirect should be issued")
	}
}

func TestExchange_CodeIsSingleUse(t *testing.T) {
	svc := setupOAuth(t)
	code := authorize(t, svc, "llm:invoke")

	req := TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "app_1",
		CodeVerifier: testVerifier,
	}
	if _, oErr := svc.Exchange(req); oErr != nil {
		t.Fatalf("First exchange: %v", oErr)
	}
	if _, oErr := svc.Exchange(req); oErr == nil || oErr.Code != "invalid_grant" {
		t.Fatalf("Second exchange should fail with invalid_grant, got %v", oErr)
	}
}

func TestExchange_WrongVerifierRejected(t *testing.T) {
	svc := setupOAuth(t)
	code := authorize(t, svc, "llm:invoke")

	_, oErr := svc.Exchange(TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "app_1",
		CodeVerifier: strings.Repeat("z", 43),
	})
	if oErr == nil || oErr.Code != "invalid_grant" {
		t.Fatalf("Expected invalid_grant, got %v", oErr)
	}
}

func TestExchange_ClientBindingEnforced(t *testing.T) {
	svc := setupOAuth(t)
	code := authorize(t, svc, "llm:invoke")

	_, oErr := svc.Exchange(TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "app_other",
		CodeVerifier: testVerifier,
	})
	if oErr == nil || oErr.Code != "invalid_grant" {
		t.Fatalf("Expected invalid_grant for foreign client, got %v", oErr)
	}
}

func TestRefresh_RotationAndReplayDetection(t *testing.T) {
	svc := setupOAuth(t)
	code := authorize(t, svc, "llm:invoke offline_access")

	first, oErr := svc.Exchange(TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "app_1",
		CodeVerifier: testVerifier,
	})
	if oErr != nil {
		t.Fatalf("Exchange: %v", oErr)
	}

	second, oErr := svc.Exchange(TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
	})
	if oErr != nil {
		t.Fatalf("Refresh: %v", oErr)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Error("Rotation should issue a fresh refresh token")
	}

	// The predecessor is dead; presenting it again is treated as theft.
	_, oErr = svc.Exchange(TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
	})
	if oErr == nil || oErr.Code != "invalid_grant" {
		t.Fatalf("Replayed refresh should fail with invalid_grant, got %v", oErr)
	}

	// The successor still works.
	if _, oErr := svc.Exchange(TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: second.RefreshToken,
	}); oErr != nil {
		t.Fatalf("Successor refresh: %v", oErr)
	}
}

func TestExchange_UnsupportedGrantType(t *testing.T) {
	svc := setupOAuth(t)

	_, oErr := svc.Exchange(TokenRequest{GrantType: "password"})
	if oErr == nil || oErr.Code != "unsupported_grant_type" {
		t.Fatalf("Expected unsupported_grant_type, got %v", oErr)
	}
}
