package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
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

type AppHandler struct {
	apps     *repositories.AppRepository
	freeTier *repositories.FreeTierRepository
}

func NewAppHandler(apps *repositories.AppRepository, freeTier *repositories.FreeTierRepository) *AppHandler {
	return &AppHandler{apps: apps, freeTier: freeTier}
}

func (h *AppHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	var req struct {
		Name         string   `json:"name"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" || len(req.RedirectURIs) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
			"name and at least one redirect_uri are required", nil)
		return
	}
	for _, uri := range req.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil || !parsed.IsAbs() || parsed.Fragment != "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
				"redirect_uris must be absolute URLs without fragments", map[string]string{"redirect_uri": uri})
			return
		}
	}

	now := time.Now().Unix()
	app := &models.App{
		ID:           "app_" + uuid.NewString(),
		OwnerUserID:  principal.UserID,
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.apps.Create(app); err != nil {
		log.Error().Err(err).Msg("app: insert failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to register app", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(app)
}

func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	apps, err := h.apps.ListByOwner(principal.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list apps", nil)
		return
	}
	if apps == nil {
		apps = []*models.App{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apps)
}

// FundFreeTier opens (or re-opens) an app-funded pool that absorbs usage
// charges before consumers' own balances are touched.
func (h *AppHandler) FundFreeTier(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	appID := params.ByName("app_id")

	app, err := h.apps.GetByID(appID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load app", nil)
		return
	}
	if app == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "App not found", nil)
		return
	}
	if app.OwnerUserID != principal.UserID {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Only the app owner can fund its pool", nil)
		return
	}

	var req struct {
		Amount models.Micros `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "A positive amount is required", nil)
		return
	}

	pool := &models.FreeTierPool{
		ID:          "ftp_" + uuid.NewString(),
		AppID:       appID,
		TotalFunded: req.Amount,
		IsActive:    true,
		CreatedAt:   time.Now().Unix(),
	}
	if err := h.freeTier.Create(pool); err != nil {
		log.Error().Err(err).Msg("app: pool funding failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fund pool", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pool)
}
