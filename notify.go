package goRecovery

import (
	"context"
	"errors"
)

// NotificationLevel distinguishes success toasts from error toasts.
type NotificationLevel string

const (
	NotificationInfo  NotificationLevel = "info"
	NotificationError NotificationLevel = "error"
)

// Notification is the user-visible outcome of a submission.
type Notification struct {
	FlowID  string
	Level   NotificationLevel
	Step    Step
	Message string
	// Field names the offending input of a validation failure.
	Field string
	// SessionExpired asks the surrounding application to route back to sign-in.
	SessionExpired bool
}

// Notifier receives one Notification per completed submission, after the
// workflow lock is released.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

func defaultSuccessMessage(step Step) string {
	switch step {
	case StepChooseMethod:
		return "OTP sent"
	case StepAwaitingOTP:
		return "OTP verified"
	case StepAwaitingNewPassword:
		return "Password reset successfully"
	default:
		return ""
	}
}

func failureNotification(flowID string, step Step, err error) Notification {
	n := Notification{
		FlowID:         flowID,
		Level:          NotificationError,
		Step:           step,
		Message:        UserMessage(step, err),
		SessionExpired: IsSessionExpired(err),
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		n.Field = ve.Field
	}
	return n
}
