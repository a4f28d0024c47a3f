package goRecovery

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	auditEventOTPRequest    = "recovery_otp_request"
	auditEventOTPVerify     = "recovery_otp_verify"
	auditEventPasswordReset = "recovery_password_reset"
	auditEventRestart       = "recovery_restart"
)

// AuditErrorCode is the coarse failure class recorded on audit events.
type AuditErrorCode string

const (
	auditErrValidation     AuditErrorCode = "validation_failed"
	auditErrSessionExpired AuditErrorCode = "session_expired"
	auditErrRateLimited    AuditErrorCode = "rate_limited"
	auditErrRejected       AuditErrorCode = "rejected"
	auditErrUpstream       AuditErrorCode = "upstream_error"
	auditErrNetwork        AuditErrorCode = "network_error"
	auditErrCanceled       AuditErrorCode = "canceled"
	auditErrRestarted      AuditErrorCode = "restarted"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func auditEventForStep(step Step) string {
	switch step {
	case StepChooseMethod:
		return auditEventOTPRequest
	case StepAwaitingOTP:
		return auditEventOTPVerify
	case StepAwaitingNewPassword:
		return auditEventPasswordReset
	default:
		return ""
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	flowID string,
	method Method,
	step Step,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil || eventType == "" {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		FlowID:    flowID,
		RequestID: RequestID(ctx),
		Method:    string(method),
		Step:      step.String(),
		IP:        ClientIP(ctx),
		Success:   err == nil,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		event.Status = apiErr.Status
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	switch {
	case IsValidationError(err):
		return auditErrValidation
	case IsSessionExpired(err):
		return auditErrSessionExpired
	case errors.Is(err, ErrWorkflowRestarted):
		return auditErrRestarted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == 0:
			return auditErrNetwork
		case apiErr.Status == http.StatusTooManyRequests:
			return auditErrRateLimited
		case apiErr.Status >= http.StatusInternalServerError:
			return auditErrUpstream
		default:
			return auditErrRejected
		}
	default:
		return auditErrInternal
	}
}
