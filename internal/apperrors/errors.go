package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrKeyNotFound = errors.New("key not found")

	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidPreference = errors.New("invalid preference value")

	ErrTransport           = errors.New("transport error")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrRefreshTokenMissing = errors.New("refresh token is missing")
	ErrRefreshFailed       = errors.New("token refresh failed")
)

// APIError is a non-2xx answer from the API.
// Detail holds the server provided explanation (FastAPI "detail" field) if any
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	default:
		return false
	}
}

// RefreshError is returned to the caller when the access token could not be refreshed
// and the session was forcibly closed
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s: %v", ErrRefreshFailed, e.Cause)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Cause}
}

// ValidationError reports request payload fields that failed client side validation
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
