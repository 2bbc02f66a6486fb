package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/engine/ledger"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

// UsageHandler fronts the metering ledger: recording billable calls and
// reading back the balance and transaction history they produce.
type UsageHandler struct {
	ledger       *ledger.Service
	users        *repositories.UserRepository
	transactions *repositories.TransactionRepository
}

func NewUsageHandler(ledger *ledger.Service, users *repositories.UserRepository,
	transactions *repositories.TransactionRepository) *UsageHandler {
	return &UsageHandler{ledger: ledger, users: users, transactions: transactions}
}

func (h *UsageHandler) Record(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)
	if principal.AppID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
			"Usage can only be recorded with an app-bound credential", nil)
		return
	}

	var usage ledger.Usage
	if err := json.NewDecoder(r.Body).Decode(&usage); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	txn, err := h.ledger.RecordUsage(*principal, usage)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrUnpriceableUsage):
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		case stderrors.Is(err, errors.ErrInsufficientBalance):
			errors.WriteError(w, http.StatusPaymentRequired, errors.ErrCodePaymentRequired,
				"Balance is insufficient to cover this call", nil)
		default:
			log.Error().Err(err).Msg("usage: record failed")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to record usage", nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}

func (h *UsageHandler) Balance(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	user, err := h.users.GetByID(principal.UserID)
	if err != nil || user == nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load balance", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"balance":     user.Balance(),
		"total_paid":  user.TotalPaid,
		"total_spent": user.TotalSpent,
	})
}

func (h *UsageHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	txns, err := h.transactions.ListByUser(principal.UserID, limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list transactions", nil)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// TopUp credits the caller's paid balance. The payment capture itself happens
// out of band; this endpoint records the settled amount.
func (h *UsageHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

	var req struct {
		Amount models.Micros `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "A positive amount is required", nil)
		return
	}

	if err := h.users.CreditPaid(principal.UserID, req.Amount); err != nil {
		log.Error().Err(err).Msg("topup: credit failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to credit balance", nil)
		return
	}

	log.Info().Str("user_id", principal.UserID).Int64("amount", int64(req.Amount)).Msg("balance topped up")
	w.WriteHeader(http.StatusNoContent)
}
