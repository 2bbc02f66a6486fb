package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/engine/oauth"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
)

type OAuthHandler struct {
	svc *oauth.Service
}

func NewOAuthHandler(svc *oauth.Service) *OAuthHandler {
	return &OAuthHandler{svc: svc}
}

// Authorize handles GET /oauth/authorize for an already-authenticated
// resource owner. Success and trusted-redirect errors both answer 302;
// failures before the redirect target is trusted are rendered in-product.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	q := r.URL.Query()
	if rt := q.Get("response_type"); rt != "code" {
		errors.WriteOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "response_type must be code")
		return
	}

	redirectURL, oErr := h.svc.Authorize(oauth.AuthorizeRequest{
		ClientID:        q.Get("client_id"),
		RedirectURI:     q.Get("redirect_uri"),
		State:           q.Get("state"),
		CodeChallenge:   q.Get("code_challenge"),
		ChallengeMethod: q.Get("code_challenge_method"),
		Scope:           q.Get("scope"),
		UserID:          principal.UserID,
	})
	if oErr != nil {
		if oErr.RedirectURL != "" {
			http.Redirect(w, r, oErr.RedirectURL, http.StatusFound)
			return
		}
		errors.WriteOAuthError(w, oErr.Status, oErr.Code, oErr.Description)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Token handles POST /oauth/token. Per RFC 6749 the endpoint takes
// form-encoded bodies; JSON is accepted as a convenience for SDK clients.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseTokenRequest(w, r)
	if !ok {
		return
	}

	resp, oErr := h.svc.Exchange(req)
	if oErr != nil {
		errors.WriteOAuthError(w, oErr.Status, oErr.Code, oErr.Description)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}

func (h *OAuthHandler) parseTokenRequest(w http.ResponseWriter, r *http.Request) (oauth.TokenRequest, bool) {
	var req oauth.TokenRequest

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
			return req, false
		}
		return req, true
	}

	if err := r.ParseForm(); err != nil {
		errors.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "Malformed form body")
		return req, false
	}
	req = oauth.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}
	return req, true
}

// UserInfo serves GET and POST /oauth/userinfo.
func (h *OAuthHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	claims, oErr := h.svc.UserInfo(*principal)
	if oErr != nil {
		errors.WriteOAuthError(w, oErr.Status, oErr.Code, oErr.Description)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(claims)
}
