package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTransient marks failures worth retrying later: the server was
// unreachable or answered 408, 429 or 5xx.
var ErrTransient = errors.New("transient network error")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrTransient) see retryable statuses.
func (e *APIError) Unwrap() error {
	if transientStatus(e.Status) {
		return ErrTransient
	}
	return nil
}

func transientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

func IsValidation(err error) bool {
	return hasStatus(err, http.StatusBadRequest)
}

func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
