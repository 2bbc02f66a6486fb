package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

// MarkupBpsMax caps the multiplier at 10x.
const MarkupBpsMax = 100000

type MarkupHandler struct {
	apps    *repositories.AppRepository
	markups *repositories.MarkUpRepository
}

func NewMarkupHandler(apps *repositories.AppRepository, markups *repositories.MarkUpRepository) *MarkupHandler {
	return &MarkupHandler{apps: apps, markups: markups}
}

func (h *MarkupHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	appID := params.ByName("app_id")

	markup, err := h.markups.GetActiveByApp(appID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load markup", nil)
		return
	}

	amountBps := int64(models.BpsScale)
	if markup != nil {
		amountBps = markup.AmountBps
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"app_id":     appID,
		"amount_bps": amountBps,
	})
}

// Set archives the previous markup and activates the new one. Existing
// transactions keep the rate they were charged under.
func (h *MarkupHandler) Set(w http.ResponseWriter, r *http.Request) {
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
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Only the app owner can set its markup", nil)
		return
	}

	var req struct {
		AmountBps int64 `json:"amount_bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.AmountBps < models.BpsScale || req.AmountBps > MarkupBpsMax {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
			"amount_bps must be between 10000 (1.0x) and 100000 (10x)", nil)
		return
	}

	markup, err := h.markups.Set(appID, req.AmountBps)
	if err != nil {
		log.Error().Err(err).Msg("markup: set failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to set markup", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markup)
}
