package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/engine/payouts"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

type PayoutHandler struct {
	svc     *payouts.Service
	payouts *repositories.PayoutRepository
}

func NewPayoutHandler(svc *payouts.Service, payoutRepo *repositories.PayoutRepository) *PayoutHandler {
	return &PayoutHandler{svc: svc, payouts: payoutRepo}
}

type claimRequest struct {
	Type  string `json:"type"`
	AppID string `json:"app_id"` // empty means claim across all apps
}

// Claim answers 202: the payout rows are committed but settlement continues
// off the request path. Poll GET /payouts/:payout_id for completion.
func (h *PayoutHandler) Claim(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Type != models.PayoutTypeMarkup && req.Type != models.PayoutTypeReferral {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
			"type must be markup or referral", nil)
		return
	}

	var created []*models.Payout
	var err error
	if req.AppID != "" {
		var payout *models.Payout
		payout, err = h.svc.ClaimForApp(principal.UserID, req.AppID, req.Type)
		if payout != nil {
			created = []*models.Payout{payout}
		}
	} else {
		created, err = h.svc.ClaimAll(principal.UserID, req.Type)
	}

	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrNothingToClaim):
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Nothing to claim", nil)
		case stderrors.Is(err, errors.ErrClaimInFlight):
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict,
				"A pending payout already exists for this claim", nil)
		case stderrors.Is(err, errors.ErrNoPayoutRecipient):
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
				"Link a payout recipient identity before claiming", nil)
		case stderrors.Is(err, errors.ErrNotAppOwner):
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden,
				"Markup earnings can only be claimed by the app owner", nil)
		case stderrors.Is(err, errors.ErrNotFound):
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "App not found", nil)
		default:
			log.Error().Err(err).Msg("payout: claim failed")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to claim payout", nil)
		}
		return
	}

	if len(created) == 0 {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Nothing to claim", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(created)
}

func (h *PayoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	payout, err := h.payouts.GetByID(params.ByName("payout_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load payout", nil)
		return
	}
	if payout == nil || payout.UserID != principal.UserID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Payout not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payout)
}

// Claimable reports how much could be claimed right now without creating a
// payout.
func (h *PayoutHandler) Claimable(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	q := r.URL.Query()
	payoutType := q.Get("type")
	appID := q.Get("app_id")
	if appID == "" || (payoutType != models.PayoutTypeMarkup && payoutType != models.PayoutTypeReferral) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
			"app_id and a type of markup or referral are required", nil)
		return
	}

	amount, err := h.svc.Claimable(principal.UserID, appID, payoutType)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrNotFound):
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "App not found", nil)
		case stderrors.Is(err, errors.ErrNotAppOwner):
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden,
				"Markup earnings are only visible to the app owner", nil)
		default:
			log.Error().Err(err).Msg("payout: claimable read failed")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to compute claimable", nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"app_id":    appID,
		"type":      payoutType,
		"claimable": amount,
	})
}
