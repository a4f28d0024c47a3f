package goRecovery

import (
	"context"
	"fmt"
	"strings"
)

// Method is the recovery channel chosen at the start of a workflow.
type Method string

const (
	// MethodPhone recovers through an SMS OTP.
	MethodPhone Method = "phone"
	// MethodEmail recovers through an email OTP.
	MethodEmail Method = "email"
)

// Valid reports whether m is a known recovery channel.
func (m Method) Valid() bool {
	return m == MethodPhone || m == MethodEmail
}

// ParseMethod converts user input ("phone", "EMAIL", " email ") into a Method.
func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown recovery method %q", raw)
	}
	return m, nil
}

// OTPLength is the number of single-character OTP input slots.
const OTPLength = 6

// State holds everything the user has entered so far plus the continuation
// token issued by the backend. It lives only as long as the workflow.
type State struct {
	Method          Method
	Email           string
	Phone           string
	OTP             [OTPLength]string
	OTPRef          string
	Password        string
	ConfirmPassword string
	Token           string
}

// NewState returns the initial state of a recovery run: phone channel, every
// field empty, six empty OTP slots.
func NewState() State {
	return State{Method: MethodPhone}
}

// OTPCode joins the OTP slots with no separator. Empty slots contribute
// nothing, so a partially filled OTP yields a shorter code.
func (s State) OTPCode() string {
	return strings.Join(s.OTP[:], "")
}

// Step is a workflow position. Transitions are strictly linear.
type Step int

const (
	// StepChooseMethod collects the channel and contact value.
	StepChooseMethod Step = iota
	// StepAwaitingOTP collects the OTP digits.
	StepAwaitingOTP
	// StepAwaitingNewPassword collects the new password and its confirmation.
	StepAwaitingNewPassword
	// StepDone is terminal.
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepChooseMethod:
		return "choose_method"
	case StepAwaitingOTP:
		return "awaiting_otp"
	case StepAwaitingNewPassword:
		return "awaiting_new_password"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// ContactPayload is the body of the OTP request. Exactly one field is set,
// matching the Method tag of the enclosing request.
type ContactPayload struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ForgotPasswordRequest is the tagged payload for the request-OTP step.
type ForgotPasswordRequest struct {
	Method  Method
	Payload ContactPayload
}

// VerifyPayload is the body of the verify step. The contact field echoes the
// value the OTP was requested for.
type VerifyPayload struct {
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	OTP    string `json:"otp"`
	Token  string `json:"token"`
	OTPRef string `json:"otpRef,omitempty"`
}

// VerifyOTPRequest is the tagged payload for the verify step. The Method tag
// selects the verify-email or verify-phone endpoint.
type VerifyOTPRequest struct {
	Method  Method
	Payload VerifyPayload
}

// ResetPasswordRequest is the payload for the final step. The confirmation
// field is consumed by validation and never transmitted.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// TokenResponse is returned by the request and verify steps.
type TokenResponse struct {
	Token      string `json:"token,omitempty"`
	Message    string `json:"message,omitempty"`
	OTPRef     string `json:"otpRef,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// MessageResponse is returned by the reset step.
type MessageResponse struct {
	Message string `json:"message,omitempty"`
}

// Transport performs the three network calls of the workflow. Implementations
// must return *APIError for non-2xx responses and transport failures.
type Transport interface {
	ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (TokenResponse, error)
	VerifyOTP(ctx context.Context, req VerifyOTPRequest) (TokenResponse, error)
	ResetPassword(ctx context.Context, req ResetPasswordRequest) (MessageResponse, error)
}
