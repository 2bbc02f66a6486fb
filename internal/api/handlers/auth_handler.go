package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

// AuthHandler covers the first-party session endpoints. Sessions issued here
// carry no app binding, so permissions resolve from the user's role.
type AuthHandler struct {
	users    *repositories.UserRepository
	tokenSvc *auth.TokenService
}

func NewAuthHandler(users *repositories.UserRepository, tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{users: users, tokenSvc: tokenSvc}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type sessionResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
			"Email and a password of at least 8 characters are required", nil)
		return
	}

	existing, err := h.users.GetByEmail(req.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create user", nil)
		return
	}
	if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Email is already registered", nil)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create user", nil)
		return
	}

	now := time.Now().Unix()
	user := &models.User{
		ID:           "usr_" + uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.users.Create(user); err != nil {
		log.Error().Err(err).Msg("signup: insert failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create user", nil)
		return
	}

	h.writeSession(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	user, err := h.users.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Login failed", nil)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid email or password", nil)
		return
	}

	h.writeSession(w, http.StatusOK, user)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, user *models.User) {
	token, expiresIn, err := h.tokenSvc.GenerateAccessToken(user.ID, "", user.Role, nil)
	if err != nil {
		log.Error().Err(err).Msg("session: token signing failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to issue session", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(sessionResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		User:        user,
	})
}
