package goRecovery

import (
	"context"
	"errors"
	"net/http"
)

// ShouldRetry reports whether a failed mutation may be sent again after
// failures attempts. Transport failures and 5xx responses qualify, and so
// do generic 4xx responses unless RetryClientErrors is cleared.
func (c MutationConfig) ShouldRetry(failures int, err error) bool {
	if err == nil || failures > c.MaxRetries {
		return false
	}
	if IsValidationError(err) || IsSessionExpired(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch {
	case apiErr.Status == 0:
		return true
	case apiErr.Status >= http.StatusInternalServerError:
		return true
	case apiErr.Status == http.StatusTooManyRequests:
		return false
	case apiErr.Status >= http.StatusBadRequest:
		return c.RetryClientErrors
	default:
		return false
	}
}
