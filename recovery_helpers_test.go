package goRecovery

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu     sync.Mutex
	forgot []ForgotPasswordRequest
	verify []VerifyOTPRequest
	reset  []ResetPasswordRequest

	forgotFn func(context.Context, ForgotPasswordRequest) (TokenResponse, error)
	verifyFn func(context.Context, VerifyOTPRequest) (TokenResponse, error)
	resetFn  func(context.Context, ResetPasswordRequest) (MessageResponse, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		forgotFn: func(context.Context, ForgotPasswordRequest) (TokenResponse, error) {
			return TokenResponse{Token: "tok1", OTPRef: "ref1", Message: "OTP sent to your contact"}, nil
		},
		verifyFn: func(context.Context, VerifyOTPRequest) (TokenResponse, error) {
			return TokenResponse{Token: "tok2", StatusCode: 200, Message: "OTP verified"}, nil
		},
		resetFn: func(context.Context, ResetPasswordRequest) (MessageResponse, error) {
			return MessageResponse{Message: "Password updated"}, nil
		},
	}
}

func (f *fakeTransport) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (TokenResponse, error) {
	f.mu.Lock()
	f.forgot = append(f.forgot, req)
	fn := f.forgotFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeTransport) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (TokenResponse, error) {
	f.mu.Lock()
	f.verify = append(f.verify, req)
	fn := f.verifyFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeTransport) ResetPassword(ctx context.Context, req ResetPasswordRequest) (MessageResponse, error) {
	f.mu.Lock()
	f.reset = append(f.reset, req)
	fn := f.resetFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeTransport) calls() (forgot, verify, reset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forgot), len(f.verify), len(f.reset)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *recordingNotifier) last(t *testing.T) Notification {
	t.Helper()
	all := r.all()
	if len(all) == 0 {
		t.Fatal("expected a notification")
	}
	return all[len(all)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Mutation.RetryDelay = time.Millisecond
	return cfg
}

// buildTestEngine returns an engine whose retry sleep returns immediately.
func buildTestEngine(t *testing.T, cfg Config, tr Transport, sink AuditSink) (*Engine, *recordingNotifier) {
	t.Helper()

	notes := &recordingNotifier{}
	engine, err := New().
		WithConfig(cfg).
		WithTransport(tr).
		WithNotifier(notes).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(engine.Close)

	return engine, notes
}

func mustNoErr(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

// startPhoneFlow drives a workflow to StepAwaitingOTP.
func startPhoneFlow(t *testing.T, w *Workflow, phone string) {
	t.Helper()
	mustNoErr(t, w.SetMethod(MethodPhone), "SetMethod")
	mustNoErr(t, w.SetPhone(phone), "SetPhone")
	if _, err := w.SubmitContact(context.Background()); err != nil {
		t.Fatalf("SubmitContact: %v", err)
	}
	if got := w.Step(); got != StepAwaitingOTP {
		t.Fatalf("expected %s, got %s", StepAwaitingOTP, got)
	}
}
