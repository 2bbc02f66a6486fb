package handlers

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

type ReferralHandler struct {
	referrals *repositories.ReferralRepository
	apps      *repositories.AppRepository
}

func NewReferralHandler(referrals *repositories.ReferralRepository, apps *repositories.AppRepository) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, apps: apps}
}

func (h *ReferralHandler) CreateCode(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	var req struct {
		AppID string `json:"app_id"` // empty means the code works for any app
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	code := &models.ReferralCode{
		ID:        "ref_" + uuid.NewString(),
		Code:      referralCode(8),
		UserID:    principal.UserID,
		CreatedAt: time.Now().Unix(),
	}
	if req.AppID != "" {
		app, err := h.apps.GetByID(req.AppID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load app", nil)
			return
		}
		if app == nil {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "App not found", nil)
			return
		}
		code.AppID = &req.AppID
	}

	if err := h.referrals.CreateCode(code); err != nil {
		log.Error().Err(err).Msg("referral: code insert failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create referral code", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(code)
}

// Bind attributes the caller's future usage of an app to a referral code.
// Rebinding replaces the previous attribution; self-referral is rejected.
func (h *ReferralHandler) Bind(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	var req struct {
		Code  string `json:"code"`
		AppID string `json:"app_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.AppID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "code and app_id are required", nil)
		return
	}

	code, err := h.referrals.GetByCode(req.Code)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to look up code", nil)
		return
	}
	if code == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Referral code not found", nil)
		return
	}
	if code.UserID == principal.UserID {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Cannot bind your own referral code", nil)
		return
	}
	if code.AppID != nil && *code.AppID != req.AppID {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Code is not valid for this app", nil)
		return
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

	binding := &models.ReferralBinding{
		UserID:         principal.UserID,
		AppID:          req.AppID,
		ReferralCodeID: code.ID,
		CreatedAt:      time.Now().Unix(),
	}
	if err := h.referrals.Bind(binding); err != nil {
		log.Error().Err(err).Msg("referral: bind failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to bind referral code", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(binding)
}

const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func referralCode(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(referralAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = referralAlphabet[n.Int64()]
	}
	return string(out)
}
