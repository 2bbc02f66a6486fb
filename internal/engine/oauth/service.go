package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

const refreshTokenPrefix = "tgr_"

// Service implements the authorization and token endpoints: code issuance
// bound to a PKCE challenge, code-for-token exchange, and refresh rotation.
type Service struct {
	apps   *repositories.AppRepository
	users  *repositories.UserRepository
	store  *repositories.OAuthRepository
	tokens *auth.TokenService
	cfg    config.OAuthConfig
}

func NewService(apps *repositories.AppRepository, users *repositories.UserRepository, store *repositories.OAuthRepository, tokens *auth.TokenService, cfg config.OAuthConfig) *Service {
	return &Service{apps: apps, users: users, store: store, tokens: tokens, cfg: cfg}
}

type AuthorizeRequest struct {
	ClientID        string
	RedirectURI     string
	State           string
	CodeChallenge   string
	ChallengeMethod string
	Scope           string
	UserID          string
}

// Authorize validates the request and issues a single-use authorization
// code. The returned URL carries code and state on success. Errors raised
// before the redirect URI is proven trustworthy have no RedirectURL and
// must be rendered in-product; anything later redirects with error params.
func (s *Service) Authorize(req AuthorizeRequest) (string, *Error) {
	app, err := s.apps.GetByID(req.ClientID)
	if err != nil {
		log.Error().Err(err).Str("client_id", req.ClientID).Msg("authorize: app lookup failed")
		return "", serverError()
	}
	if app == nil || !app.IsActive {
		return "", invalidRequest("client_id does not resolve to an active app")
	}

	if !redirectAllowed(app.RedirectURIs, req.RedirectURI) {
		// Open-redirect guard: never bounce errors to an unlisted URI.
		return "", invalidRequest("redirect_uri is not registered for this app")
	}

	// Registration validates URIs, but a stored URI that no longer parses
	// cannot carry a code or an error; render in-product instead.
	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", invalidRequest("redirect_uri is malformed")
	}

	// From here the redirect target is trusted enough to carry errors.
	if req.ChallengeMethod != auth.MethodS256 {
		return errorRedirect(req, invalidRequest("code_challenge_method must be S256"))
	}
	if !auth.ValidCodeChallenge(req.CodeChallenge) {
		return errorRedirect(req, invalidRequest("code_challenge is malformed"))
	}

	scopes := splitScope(req.Scope)
	for _, scope := range scopes {
		if !auth.KnownScope(scope) {
			return errorRedirect(req, &Error{Code: "invalid_scope", Description: "unknown scope " + scope, Status: 400})
		}
	}

	code := &models.AuthorizationCode{
		Code:            randomToken(32),
		AppID:           app.ID,
		UserID:          req.UserID,
		RedirectURI:     req.RedirectURI,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: req.ChallengeMethod,
		Scope:           strings.Join(scopes, " "),
		ExpiresAt:       time.Now().Add(s.cfg.CodeTTL).Unix(),
		CreatedAt:       time.Now().Unix(),
	}
	if err := s.store.CreateCode(code); err != nil {
		log.Error().Err(err).Str("app_id", app.ID).Msg("authorize: failed to persist code")
		return errorRedirect(req, serverError())
	}

	q := u.Query()
	q.Set("code", code.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()

	log.Info().Str("app_id", app.ID).Str("user_id", req.UserID).Msg("authorization code issued")
	return u.String(), nil
}

type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	Scope        string       `json:"scope"`
	User         *models.User `json:"user"`
	App          *models.App  `json:"app"`
}

// Exchange serves the token endpoint for both supported grants.
func (s *Service) Exchange(req TokenRequest) (*TokenResponse, *Error) {
	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(req)
	case "refresh_token":
		return s.refresh(req)
	default:
		return nil, unsupportedGrantType(req.GrantType)
	}
}

func (s *Service) exchangeCode(req TokenRequest) (*TokenResponse, *Error) {
	if req.Code == "" || req.RedirectURI == "" || req.ClientID == "" || req.CodeVerifier == "" {
		return nil, invalidRequest("code, redirect_uri, client_id and code_verifier are required")
	}

	code, err := s.store.GetCode(req.Code)
	if err != nil {
		log.Error().Err(err).Msg("token: code lookup failed")
		return nil, serverError()
	}
	if code == nil {
		return nil, invalidGrant("authorization code is invalid")
	}
	if code.Consumed {
		// Single-use violation. Logged apart from expiry so interception
		// attempts stand out.
		log.Warn().Str("app_id", code.AppID).Str("user_id", code.UserID).
			Msg("authorization code reuse detected")
		return nil, invalidGrant("authorization code is invalid")
	}
	if code.ExpiresAt < time.Now().Unix() {
		return nil, invalidGrant("authorization code has expired")
	}

	// Binding checks: the exchange must present the same client and
	// redirect URI recorded at authorize time.
	if req.ClientID != code.AppID || req.RedirectURI != code.RedirectURI {
		return nil, invalidGrant("authorization code was issued to a different client")
	}

	if !auth.ValidCodeVerifier(req.CodeVerifier) || !auth.VerifierMatches(req.CodeVerifier, code.CodeChallenge) {
		return nil, invalidGrant("code_verifier does not match the challenge")
	}

	app, err := s.apps.GetByID(code.AppID)
	if err != nil {
		log.Error().Err(err).Msg("token: app lookup failed")
		return nil, serverError()
	}
	if app == nil || !app.IsActive {
		return nil, invalidGrant("app is no longer active")
	}

	scopes := splitScope(code.Scope)
	wantRefresh := hasScope(scopes, auth.ScopeOfflineAccess)

	tx, err := s.store.BeginTx()
	if err != nil {
		log.Error().Err(err).Msg("token: begin tx failed")
		return nil, serverError()
	}
	defer tx.Rollback()

	consumed, err := s.store.ConsumeCodeTx(tx, code.Code)
	if err != nil {
		log.Error().Err(err).Msg("token: consume code failed")
		return nil, serverError()
	}
	if !consumed {
		log.Warn().Str("app_id", code.AppID).Str("user_id", code.UserID).
			Msg("authorization code reuse detected")
		return nil, invalidGrant("authorization code is invalid")
	}

	var rawRefresh string
	if wantRefresh {
		rawRefresh = refreshTokenPrefix + randomToken(32)
		record := &models.RefreshToken{
			TokenHash: hashToken(rawRefresh),
			UserID:    code.UserID,
			AppID:     code.AppID,
			Scope:     code.Scope,
			ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL).Unix(),
			IsActive:  true,
			CreatedAt: time.Now().Unix(),
		}
		if err := s.store.CreateRefreshTx(tx, record); err != nil {
			log.Error().Err(err).Msg("token: create refresh failed")
			return nil, serverError()
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("token: commit failed")
		return nil, serverError()
	}

	resp, oErr := s.buildTokenResponse(code.UserID, app, scopes, rawRefresh)
	if oErr != nil {
		return nil, oErr
	}
	log.Info().Str("app_id", app.ID).Str("user_id", code.UserID).Msg("authorization code exchanged")
	return resp, nil
}

func (s *Service) refresh(req TokenRequest) (*TokenResponse, *Error) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("refresh_token is required")
	}

	hash := hashToken(req.RefreshToken)
	token, err := s.store.GetRefreshByHash(hash)
	if err != nil {
		log.Error().Err(err).Msg("token: refresh lookup failed")
		return nil, serverError()
	}
	if token == nil {
		return nil, invalidGrant("refresh token is invalid")
	}
	if !token.IsActive {
		// A deactivated token coming back is either theft or a client
		// that lost the rotation race. Either way: hard failure.
		log.Warn().Str("app_id", token.AppID).Str("user_id", token.UserID).
			Msg("refresh token replay detected")
		return nil, invalidGrant("refresh token is invalid")
	}
	if token.ExpiresAt < time.Now().Unix() {
		if err := s.store.DeactivateRefresh(hash); err != nil {
			log.Error().Err(err).Msg("token: deactivate expired refresh failed")
		}
		return nil, invalidGrant("refresh token has expired")
	}

	app, err := s.apps.GetByID(token.AppID)
	if err != nil {
		log.Error().Err(err).Msg("token: app lookup failed")
		return nil, serverError()
	}
	if app == nil || !app.IsActive {
		return nil, invalidGrant("app is no longer active")
	}

	tx, err := s.store.BeginTx()
	if err != nil {
		log.Error().Err(err).Msg("token: begin tx failed")
		return nil, serverError()
	}
	defer tx.Rollback()

	rotated, err := s.store.DeactivateRefreshTx(tx, hash)
	if err != nil {
		log.Error().Err(err).Msg("token: deactivate refresh failed")
		return nil, serverError()
	}
	if !rotated {
		log.Warn().Str("app_id", token.AppID).Str("user_id", token.UserID).
			Msg("refresh token replay detected")
		return nil, invalidGrant("refresh token is invalid")
	}

	rawRefresh := refreshTokenPrefix + randomToken(32)
	successor := &models.RefreshToken{
		TokenHash: hashToken(rawRefresh),
		UserID:    token.UserID,
		AppID:     token.AppID,
		Scope:     token.Scope,
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL).Unix(),
		IsActive:  true,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.store.CreateRefreshTx(tx, successor); err != nil {
		log.Error().Err(err).Msg("token: create refresh failed")
		return nil, serverError()
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("token: commit failed")
		return nil, serverError()
	}

	resp, oErr := s.buildTokenResponse(token.UserID, app, splitScope(token.Scope), rawRefresh)
	if oErr != nil {
		return nil, oErr
	}
	log.Info().Str("app_id", app.ID).Str("user_id", token.UserID).Msg("refresh token rotated")
	return resp, nil
}

func (s *Service) buildTokenResponse(userID string, app *models.App, scopes []string, rawRefresh string) (*TokenResponse, *Error) {
	user, err := s.users.GetByID(userID)
	if err != nil || user == nil {
		log.Error().Err(err).Str("user_id", userID).Msg("token: user lookup failed")
		return nil, serverError()
	}

	access, expiresIn, err := s.tokens.GenerateAccessToken(user.ID, app.ID, "", scopes)
	if err != nil {
		log.Error().Err(err).Msg("token: signing failed")
		return nil, serverError()
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: rawRefresh,
		Scope:        strings.Join(scopes, " "),
		User:         user,
		App:          app,
	}, nil
}

// UserInfo returns the OIDC-standard claims subset for the token's subject.
func (s *Service) UserInfo(principal auth.Principal) (map[string]interface{}, *Error) {
	user, err := s.users.GetByID(principal.UserID)
	if err != nil {
		log.Error().Err(err).Msg("userinfo: user lookup failed")
		return nil, serverError()
	}
	if user == nil {
		return nil, &Error{Code: "invalid_token", Description: "token subject no longer exists", Status: 401}
	}

	return map[string]interface{}{
		"sub":                user.ID,
		"email":              user.Email,
		"email_verified":     user.EmailVerified,
		"name":               user.FullName,
		"preferred_username": user.PreferredUsername,
		"given_name":         user.GivenName,
		"family_name":        user.FamilyName,
		"updated_at":         user.UpdatedAt,
	}, nil
}

func redirectAllowed(allowList []string, redirectURI string) bool {
	// Exact match only; no prefix or wildcard logic.
	for _, uri := range allowList {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

func errorRedirect(req AuthorizeRequest, oErr *Error) (string, *Error) {
	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", oErr
	}
	q := u.Query()
	q.Set("error", oErr.Code)
	q.Set("error_description", oErr.Description)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	oErr.RedirectURL = u.String()
	return "", oErr
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func randomToken(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure means the process cannot run safely
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
