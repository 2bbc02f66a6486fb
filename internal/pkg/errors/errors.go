package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodePaymentRequired   = "PAYMENT_REQUIRED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Sentinel errors crossing service boundaries. Handlers map these to HTTP
// statuses; services never touch the response writer themselves.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPoolExhausted       = errors.New("free-tier pool exhausted")
	ErrUnpriceableUsage    = errors.New("usage cannot be priced")
	ErrClaimInFlight       = errors.New("a pending payout already exists for this claim")
	ErrNothingToClaim      = errors.New("no claimable earnings")
	ErrNotAppOwner         = errors.New("caller does not own this app")
	ErrNoPayoutRecipient   = errors.New("no linked payout recipient identity")
	ErrNotFound            = errors.New("not found")
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// OAuthErrorResponse is the RFC 6749 error shape used by every /oauth/*
// endpoint regardless of transport.
type OAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func WriteOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(OAuthErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
