package vinylauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers dispatch with errors.Is.
var (
	ErrMalformed          = errors.New("malformed input")
	ErrBadRequest         = errors.New("bad request")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInvalidSignature   = fmt.Errorf("%w: invalid signature", ErrInvalidCredential)
	ErrExpired            = errors.New("expired")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
)

// Machine readable codes sent alongside error messages.
const (
	ErrCodeMissingField        = "missing_field"
	ErrCodeInvalidCreds        = "invalid_credentials"
	ErrCodeInvalidEmail        = "invalid_email"
	ErrCodeInvalidUsername     = "invalid_username"
	ErrCodeWeakPassword        = "weak_password"
	ErrCodeUsernameTaken       = "username_taken"
	ErrCodeEmailExists         = "email_exists"
	ErrCodeEmailAlreadySet     = "email_already_set"
	ErrCodeConcurrentUpdate    = "concurrent_update"
	ErrCodeInvalidToken        = "invalid_token"
	ErrCodeTokenExpired        = "token_expired"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeConfirmation        = "confirmation_required"
	ErrCodeNotFound            = "not_found"
	ErrCodeLinkDenied          = "link_denied"
	ErrCodeProviderUnavailable = "provider_unavailable"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeInternal            = "internal_error"
)

// AuthError is an error with a user facing message. It unwraps to its Kind.
type AuthError struct {
	Kind    error
	Code    string
	Message string
	Field   string
}

func NewAuthError(kind error, code, message, field string) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Kind == nil {
		return e.Message
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Kind }

// StatusFor maps an error to the HTTP status it should be reported with.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Code != "" {
		return authErr.Code
	}
	switch {
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrBadRequest):
		return ErrCodeMissingField
	case errors.Is(err, ErrInvalidSignature):
		return ErrCodeInvalidToken
	case errors.Is(err, ErrInvalidCredential):
		return ErrCodeInvalidCreds
	case errors.Is(err, ErrExpired):
		return ErrCodeTokenExpired
	case errors.Is(err, ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return ErrCodeLinkDenied
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimited
	case errors.Is(err, ErrServiceUnavailable):
		return ErrCodeProviderUnavailable
	}
	return ErrCodeInternal
}

// messageFor never exposes wrapped internal details; only AuthError
// messages are written verbatim.
func messageFor(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	switch StatusFor(err) {
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusUnauthorized:
		return "Authentication required"
	case http.StatusForbidden:
		return "Access denied"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusConflict:
		return "Already exists"
	case http.StatusTooManyRequests:
		return "Too many requests, try again later"
	case http.StatusServiceUnavailable:
		return "Service temporarily unavailable"
	}
	return "Internal server error"
}

// writeError writes the JSON error body {"error", "code"[, "field"]}.
func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	body := map[string]any{
		"error": messageFor(err),
		"code":  codeFor(err),
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Field != "" {
		body["field"] = authErr.Field
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
