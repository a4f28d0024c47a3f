package goRecovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrEngineNotReady is returned when an Engine or Workflow was not created through Builder.Build.
	ErrEngineNotReady = errors.New("recovery engine not initialized")
	// ErrSubmitInFlight is returned when a step is submitted while another submission is still running.
	ErrSubmitInFlight = errors.New("recovery step already in flight")
	// ErrStepMismatch is returned when an input or submission does not belong to the current step.
	ErrStepMismatch = errors.New("recovery step mismatch")
	// ErrWorkflowDone is returned for any mutation after the workflow reached StepDone.
	ErrWorkflowDone = errors.New("recovery workflow already completed")
	// ErrWorkflowRestarted is returned by a submission whose result was discarded by Restart.
	ErrWorkflowRestarted = errors.New("recovery workflow restarted during submission")
	// ErrOTPSlot is returned for an out-of-range slot index or a multi-character slot value.
	ErrOTPSlot = errors.New("invalid otp slot")
	// ErrMethodLocked is returned when the recovery channel is changed after an OTP was issued.
	ErrMethodLocked = errors.New("recovery method locked")
	// ErrSessionExpired marks failures that must send the user back to sign-in.
	ErrSessionExpired = errors.New("session expired")
	// ErrTransportRequired is returned by Build when no Transport was supplied.
	ErrTransportRequired = errors.New("recovery transport required")
)

// sessionExpiredMarker is matched case-sensitively against server messages.
const sessionExpiredMarker = "Session expired"

const (
	defaultRequestFailure = "Failed to send OTP"
	defaultVerifyFailure  = "Invalid OTP"
	defaultResetFailure   = "Failed to reset password"
	defaultGenericFailure = "Something went wrong"
)

// DefaultFailureMessage returns the user-facing fallback shown when a step
// fails without a server-supplied message.
func DefaultFailureMessage(step Step) string {
	switch step {
	case StepChooseMethod:
		return defaultRequestFailure
	case StepAwaitingOTP:
		return defaultVerifyFailure
	case StepAwaitingNewPassword:
		return defaultResetFailure
	default:
		return defaultGenericFailure
	}
}

// FieldIssue is one failed schema rule.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is a local schema failure. Message is the first failure;
// Issues lists every failure in field order.
type ValidationError struct {
	Field   string
	Tag     string
	Message string
	Issues  []FieldIssue
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// APIError is a failed network call. Status is zero when the request never
// produced an HTTP response.
type APIError struct {
	Step    Step
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsValidationError reports whether err is a local schema failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSessionExpired reports whether err means the user's session is gone:
// HTTP 401/403, or a message containing "Session expired".
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
			return true
		}
		return strings.Contains(apiErr.Message, sessionExpiredMarker)
	}

	return strings.Contains(err.Error(), sessionExpiredMarker)
}

// UserMessage returns the text shown to the user for a failed step.
func UserMessage(step Step, err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) && ve.Message != "" {
		return ve.Message
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	switch {
	case errors.Is(err, ErrSubmitInFlight):
		return "Please wait for the current request to finish"
	case errors.Is(err, ErrMethodLocked):
		return "Recovery method cannot be changed after the OTP was sent"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return DefaultFailureMessage(step)
	}
}
