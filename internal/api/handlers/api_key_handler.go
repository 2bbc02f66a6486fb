package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

type APIKeyHandler struct {
	keys *repositories.APIKeyRepository
	apps *repositories.AppRepository
}

func NewAPIKeyHandler(keys *repositories.APIKeyRepository, apps *repositories.AppRepository) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, apps: apps}
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	var req struct {
		Name          string   `json:"name"`
		AppID         string   `json:"app_id"`
		Scopes        []string `json:"scopes"`
		ExpiresInDays int      `json:"expires_in_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.AppID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "app_id is required", nil)
		return
	}
	for _, scope := range req.Scopes {
		if !auth.KnownScope(scope) {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
				"unknown scope", map[string]string{"scope": scope})
			return
		}
	}

	app, err := h.apps.GetByID(req.AppID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load app", nil)
		return
	}
	if app == nil || !app.IsActive {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "App not found", nil)
		return
	}

	rawKey := fmt.Sprintf("tgk_live_%s", uuid.NewString())
	hash := sha256.Sum256([]byte(rawKey))

	apiKey := &models.APIKey{
		ID:        "key_" + uuid.NewString(),
		UserID:    principal.UserID,
		AppID:     req.AppID,
		Name:      req.Name,
		KeyHash:   hex.EncodeToString(hash[:]),
		KeyPrefix: rawKey[:13] + "...",
		Scopes:    req.Scopes,
		CreatedAt: time.Now().Unix(),
	}
	if req.ExpiresInDays > 0 {
		exp := time.Now().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour).Unix()
		apiKey.ExpiresAt = &exp
	}

	if err := h.keys.Create(apiKey); err != nil {
		log.Error().Err(err).Msg("api key: insert failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create API key", nil)
		return
	}

	// The raw key is returned exactly once.
	response := struct {
		ID        string   `json:"id"`
		Key       string   `json:"key"`
		Name      string   `json:"name"`
		AppID     string   `json:"app_id"`
		Scopes    []string `json:"scopes"`
		CreatedAt int64    `json:"created_at"`
	}{
		ID:        apiKey.ID,
		Key:       rawKey,
		Name:      apiKey.Name,
		AppID:     apiKey.AppID,
		Scopes:    apiKey.Scopes,
		CreatedAt: apiKey.CreatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	keys, err := h.keys.ListByUser(principal.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list API keys", nil)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	keyID := params.ByName("key_id")

	keys, err := h.keys.ListByUser(principal.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke API key", nil)
		return
	}
	owned := false
	for _, key := range keys {
		if key.ID == keyID {
			owned = true
			break
		}
	}
	if !owned {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
		return
	}

	if err := h.keys.Revoke(keyID); err != nil {
		log.Error().Err(err).Msg("api key: revoke failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke API key", nil)
		return
	}

	w.WriteHeader(http.StatusOK)
}
