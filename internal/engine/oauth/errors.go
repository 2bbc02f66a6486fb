package oauth

import (
	"fmt"
	"net/http"
)

// Error is an RFC 6749 protocol error. RedirectURL is set when the failing
// authorize request had already proven its redirect target trustworthy, so
// the handler can carry error/error_description back to the client instead
// of rendering an in-product error.
type Error struct {
	Code        string
	Description string
	Status      int
	RedirectURL string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func invalidRequest(desc string) *Error {
	return &Error{Code: "invalid_request", Description: desc, Status: http.StatusBadRequest}
}

func invalidGrant(desc string) *Error {
	return &Error{Code: "invalid_grant", Description: desc, Status: http.StatusBadRequest}
}

func unsupportedGrantType(grantType string) *Error {
	return &Error{
		Code:        "unsupported_grant_type",
		Description: fmt.Sprintf("grant_type %q is not supported", grantType),
		Status:      http.StatusBadRequest,
	}
}

func serverError() *Error {
	return &Error{
		Code:        "server_error",
		Description: "The authorization server encountered an unexpected condition.",
		Status:      http.StatusInternalServerError,
	}
}
