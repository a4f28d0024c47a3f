package flows

import (
	"context"
	"strconv"
	"time"
)

type StepDeps[Req, Resp any] struct {
	// Event is the audit event type of the step.
	Event string

	Build func() (Req, error)
	Send  func(context.Context, Req) (Resp, error)

	IsValidationError func(error) bool
	IsSessionExpired  func(error) bool
	ShouldRetry       func(int, error) bool
	RetryDelay        time.Duration
	Sleep             func(context.Context, time.Duration) error
	Now               func() time.Time

	MetricInc      func(int)
	ObserveLatency func(int, time.Duration)
	EmitAudit      func(context.Context, string, error, func() map[string]string)

	Metrics StepMetrics
	Errors  StepErrors
}

// RunStep validates and sends one workflow step. A Build error is returned
// as-is and Send is never called.
func RunStep[Req, Resp any](ctx context.Context, deps StepDeps[Req, Resp]) (Resp, error) {
	normalizeStepDeps(&deps)

	var zero Resp
	if deps.Build == nil || deps.Send == nil {
		return zero, deps.Errors.EngineNotReady
	}

	req, err := deps.Build()
	if err != nil {
		deps.MetricInc(deps.Metrics.ValidationRejected)
		deps.EmitAudit(ctx, deps.Event, err, nil)
		return zero, err
	}

	deps.MetricInc(deps.Metrics.Attempt)

	attempts := 0
	resp, err := RunMutation(ctx, func(ctx context.Context) (Resp, error) {
		attempts++
		start := deps.Now()
		out, callErr := deps.Send(ctx, req)
		deps.ObserveLatency(deps.Metrics.Latency, deps.Now().Sub(start))
		return out, callErr
	}, MutationDeps{
		ShouldRetry: func(failures int, err error) bool {
			if deps.IsValidationError(err) || deps.IsSessionExpired(err) {
				return false
			}
			return deps.ShouldRetry(failures, err)
		},
		RetryDelay: deps.RetryDelay,
		Sleep:      deps.Sleep,
		OnRetry: func(int, error) {
			deps.MetricInc(deps.Metrics.Retry)
		},
	})

	attemptsMeta := func() map[string]string {
		return map[string]string{
			"attempts": strconv.Itoa(attempts),
		}
	}

	if err != nil {
		if deps.IsSessionExpired(err) {
			deps.MetricInc(deps.Metrics.SessionExpired)
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Event, err, attemptsMeta)
		return zero, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Event, nil, attemptsMeta)

	return resp, nil
}

func normalizeStepDeps[Req, Resp any](deps *StepDeps[Req, Resp]) {
	if deps.IsValidationError == nil {
		deps.IsValidationError = func(error) bool { return false }
	}
	if deps.IsSessionExpired == nil {
		deps.IsSessionExpired = func(error) bool { return false }
	}
	if deps.ShouldRetry == nil {
		deps.ShouldRetry = func(int, error) bool { return false }
	}
	if deps.Sleep == nil {
		deps.Sleep = SleepContext
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, error, func() map[string]string) {}
	}
}
