package goRecovery

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"

	internalflows "github.com/MrEthical07/goRecovery/internal/flows"
)

// Workflow is one recovery run. Steps advance strictly in order:
//
//	ChooseMethod -> AwaitingOTP -> AwaitingNewPassword -> Done
//
// A failed submission leaves the step unchanged. Only one submission may be
// in flight; inputs may still be edited while it runs and take effect on the
// next submission.
type Workflow struct {
	engine *Engine
	id     string

	mu       sync.Mutex
	state    State
	step     Step
	inFlight bool
	// gen is bumped by Restart so late results of an abandoned submission
	// are discarded.
	gen uint64
}

// WorkflowSnapshot is a consistent copy of a Workflow.
type WorkflowSnapshot struct {
	FlowID   string
	Step     Step
	State    State
	InFlight bool
}

// FlowID returns the identifier stamped on audit events and notifications.
func (w *Workflow) FlowID() string {
	if w == nil {
		return ""
	}
	return w.id
}

// Step returns the current step.
func (w *Workflow) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Snapshot returns a copy of the state and step.
func (w *Workflow) Snapshot() WorkflowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkflowSnapshot{
		FlowID:   w.id,
		Step:     w.step,
		State:    w.state,
		InFlight: w.inFlight,
	}
}

/*
====================================
INPUTS
====================================
*/

// SetMethod selects the recovery channel. The method is locked once the
// OTP request succeeded.
func (w *Workflow) SetMethod(m Method) error {
	if !m.Valid() {
		return invalidMethodError()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight && w.step != StepDone {
		return ErrSubmitInFlight
	}

	switch w.step {
	case StepChooseMethod:
		w.state.Method = m
		return nil
	case StepDone:
		return ErrWorkflowDone
	default:
		if m == w.state.Method {
			return nil
		}
		return ErrMethodLocked
	}
}

// SetPhone stores the phone number as typed. Normalization happens when a
// request is built.
func (w *Workflow) SetPhone(phone string) error {
	return w.edit(StepChooseMethod, func(s *State) error {
		s.Phone = phone
		return nil
	})
}

// SetEmail stores the email address.
func (w *Workflow) SetEmail(email string) error {
	return w.edit(StepChooseMethod, func(s *State) error {
		s.Email = email
		return nil
	})
}

// SetOTPDigit stores one character in slot i. An empty digit clears the slot.
func (w *Workflow) SetOTPDigit(i int, digit string) error {
	if i < 0 || i >= OTPLength || utf8.RuneCountInString(digit) > 1 {
		return ErrOTPSlot
	}
	return w.edit(StepAwaitingOTP, func(s *State) error {
		s.OTP[i] = digit
		return nil
	})
}

// SetOTP spreads code over the slots, one character each, clearing the
// remaining slots. It mirrors pasting a code into the first box.
func (w *Workflow) SetOTP(code string) error {
	if utf8.RuneCountInString(code) > OTPLength {
		return ErrOTPSlot
	}

	var slots [OTPLength]string
	i := 0
	for _, r := range code {
		slots[i] = string(r)
		i++
	}

	return w.edit(StepAwaitingOTP, func(s *State) error {
		s.OTP = slots
		return nil
	})
}

// SetPassword stores the new password and its confirmation.
func (w *Workflow) SetPassword(password, confirm string) error {
	return w.edit(StepAwaitingNewPassword, func(s *State) error {
		s.Password = password
		s.ConfirmPassword = confirm
		return nil
	})
}

// edit applies fn to the state of step. Inputs are frozen while a
// submission runs so the stored state matches what was sent.
func (w *Workflow) edit(step Step, fn func(*State) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step == StepDone {
		return ErrWorkflowDone
	}
	if w.inFlight {
		return ErrSubmitInFlight
	}
	if w.step != step {
		return ErrStepMismatch
	}
	return fn(&w.state)
}

/*
====================================
SUBMISSIONS
====================================
*/

// SubmitContact validates the contact of the selected method and requests
// an OTP. On success the issued token is stored and the workflow moves to
// StepAwaitingOTP.
func (w *Workflow) SubmitContact(ctx context.Context) (TokenResponse, error) {
	const step = StepChooseMethod

	snap, gen, err := w.begin(step)
	if err != nil {
		return TokenResponse{}, err
	}

	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	resp, err := internalflows.RunStep(ctx, stepFlowDeps(w, step, snap.Method,
		func() (ForgotPasswordRequest, error) { return BuildForgotPasswordRequest(snap) },
		w.engine.transport.ForgotPassword,
	))

	err = w.finish(gen, err, func(s *State) Step {
		s.Token = resp.Token
		if resp.OTPRef != "" {
			s.OTPRef = resp.OTPRef
		}
		s.OTP = [OTPLength]string{}
		return StepAwaitingOTP
	})
	w.report(ctx, step, resp.Message, err)

	return resp, err
}

// SubmitOTP verifies the joined OTP. A token in the response replaces the
// stored one; the workflow moves to StepAwaitingNewPassword.
func (w *Workflow) SubmitOTP(ctx context.Context) (TokenResponse, error) {
	const step = StepAwaitingOTP

	snap, gen, err := w.begin(step)
	if err != nil {
		return TokenResponse{}, err
	}

	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	resp, err := internalflows.RunStep(ctx, stepFlowDeps(w, step, snap.Method,
		func() (VerifyOTPRequest, error) { return BuildVerifyOTPRequest(snap) },
		w.engine.transport.VerifyOTP,
	))

	err = w.finish(gen, err, func(s *State) Step {
		if resp.Token != "" {
			s.Token = resp.Token
		}
		return StepAwaitingNewPassword
	})
	w.report(ctx, step, resp.Message, err)

	return resp, err
}

// SubmitNewPassword resets the password. On success the workflow is Done
// and the secrets held in State are cleared.
func (w *Workflow) SubmitNewPassword(ctx context.Context) (MessageResponse, error) {
	const step = StepAwaitingNewPassword

	snap, gen, err := w.begin(step)
	if err != nil {
		return MessageResponse{}, err
	}

	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	resp, err := internalflows.RunStep(ctx, stepFlowDeps(w, step, snap.Method,
		func() (ResetPasswordRequest, error) { return BuildResetPasswordRequest(snap) },
		w.engine.transport.ResetPassword,
	))

	err = w.finish(gen, err, func(s *State) Step {
		s.Password = ""
		s.ConfirmPassword = ""
		s.Token = ""
		s.OTP = [OTPLength]string{}
		s.OTPRef = ""
		return StepDone
	})
	w.report(ctx, step, resp.Message, err)

	return resp, err
}

// Restart discards all input and returns to StepChooseMethod. The result of
// a submission still in flight is dropped and that submission returns
// ErrWorkflowRestarted.
func (w *Workflow) Restart(ctx context.Context) {
	w.mu.Lock()
	prev := w.step
	method := w.state.Method
	w.gen++
	w.state = NewState()
	w.step = StepChooseMethod
	w.inFlight = false
	w.mu.Unlock()

	if w.engine != nil {
		w.engine.emitAudit(ctx, auditEventRestart, w.id, method, prev, nil, nil)
	}
}

func (w *Workflow) begin(step Step) (State, uint64, error) {
	if w == nil || w.engine == nil || w.engine.transport == nil {
		return State{}, 0, ErrEngineNotReady
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.step == StepDone:
		return State{}, 0, ErrWorkflowDone
	case w.inFlight:
		return State{}, 0, ErrSubmitInFlight
	case w.step != step:
		return State{}, 0, ErrStepMismatch
	}

	w.inFlight = true
	return w.state, w.gen, nil
}

// finish applies advance on success. It returns the error the caller must
// surface, which is ErrWorkflowRestarted when gen is stale.
func (w *Workflow) finish(gen uint64, err error, advance func(*State) Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen {
		return ErrWorkflowRestarted
	}

	w.inFlight = false
	if err != nil {
		return err
	}

	w.step = advance(&w.state)
	return nil
}

func (w *Workflow) report(ctx context.Context, step Step, serverMessage string, err error) {
	e := w.engine
	if err != nil {
		if errors.Is(err, ErrWorkflowRestarted) {
			return
		}
		e.notify(ctx, failureNotification(w.id, step, err))
		return
	}
	if !e.config.Workflow.NotifySuccess {
		return
	}

	msg := serverMessage
	if msg == "" {
		msg = defaultSuccessMessage(step)
	}
	e.notify(ctx, Notification{
		FlowID:  w.id,
		Level:   NotificationInfo,
		Step:    step,
		Message: msg,
	})
}

func (w *Workflow) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := w.engine.config.Workflow.StepTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
