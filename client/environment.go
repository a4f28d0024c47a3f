package client

import (
	"errors"

	goRecovery "github.com/MrEthical07/goRecovery"
)

// Environment supplies per-call values that a browser would read from the
// page location and local storage.
type Environment interface {
	BaseURL() string
	Locale() string
}

// StaticEnvironment is a fixed Environment.
type StaticEnvironment struct {
	URL  string
	Lang string
}

func (e StaticEnvironment) BaseURL() string { return e.URL }

func (e StaticEnvironment) Locale() string {
	if e.Lang == "" {
		return "en"
	}
	return e.Lang
}

// IsSessionExpired reports whether err should route the user back to sign-in.
func IsSessionExpired(err error) bool {
	return goRecovery.IsSessionExpired(err)
}

// ShouldRetry applies the default mutation policy: at most one retry, never
// for validation or session-expired failures.
func ShouldRetry(failureCount int, err error) bool {
	return goRecovery.DefaultConfig().Mutation.ShouldRetry(failureCount, err)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *goRecovery.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
