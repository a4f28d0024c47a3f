package goRecovery

import (
	"context"
	"time"

	"github.com/MrEthical07/goRecovery/internal/audit"
	internalflows "github.com/MrEthical07/goRecovery/internal/flows"
	"github.com/google/uuid"
)

// Engine owns the transport, notifier, audit dispatcher and metrics shared
// by every Workflow it starts. Create it with New().…Build().
type Engine struct {
	config    Config
	transport Transport
	notifier  Notifier
	audit     *audit.Dispatcher
	metrics   *Metrics

	newFlowID func() string
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// Start begins a fresh recovery run in StepChooseMethod with NewState.
func (e *Engine) Start() *Workflow {
	flowID := ""
	if e != nil && e.newFlowID != nil {
		flowID = e.newFlowID()
	}
	return &Workflow{
		engine: e,
		id:     flowID,
		state:  NewState(),
		step:   StepChooseMethod,
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Close flushes and stops the audit dispatcher. In-flight workflows keep
// working but no longer emit audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if e == nil || e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, n)
}

func (e *Engine) stepMetrics(step Step) internalflows.StepMetrics {
	m := internalflows.StepMetrics{
		ValidationRejected: int(MetricValidationRejected),
		SessionExpired:     int(MetricSessionExpired),
		Retry:              int(MetricMutationRetry),
		Latency:            int(MetricUpstreamLatency),
	}
	switch step {
	case StepChooseMethod:
		m.Attempt = int(MetricOTPRequestAttempt)
		m.Success = int(MetricOTPRequestSuccess)
		m.Failure = int(MetricOTPRequestFailure)
	case StepAwaitingOTP:
		m.Attempt = int(MetricOTPVerifyAttempt)
		m.Success = int(MetricOTPVerifySuccess)
		m.Failure = int(MetricOTPVerifyFailure)
	case StepAwaitingNewPassword:
		m.Attempt = int(MetricPasswordResetAttempt)
		m.Success = int(MetricPasswordResetSuccess)
		m.Failure = int(MetricPasswordResetFailure)
	}
	return m
}

// stepFlowDeps wires engine collaborators into a flows.StepDeps for one
// submission of w.
func stepFlowDeps[Req, Resp any](
	w *Workflow,
	step Step,
	method Method,
	build func() (Req, error),
	send func(context.Context, Req) (Resp, error),
) internalflows.StepDeps[Req, Resp] {
	e := w.engine
	cfg := e.config

	return internalflows.StepDeps[Req, Resp]{
		Event:             auditEventForStep(step),
		Build:             build,
		Send:              send,
		IsValidationError: IsValidationError,
		IsSessionExpired:  IsSessionExpired,
		ShouldRetry:       cfg.Mutation.ShouldRetry,
		RetryDelay:        cfg.Mutation.RetryDelay,
		Sleep:             e.sleep,
		Now:               e.now,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		ObserveLatency: func(id int, d time.Duration) {
			e.metrics.Observe(MetricID(id), d)
		},
		EmitAudit: func(ctx context.Context, event string, err error, meta func() map[string]string) {
			e.emitAudit(ctx, event, w.id, method, step, err, meta)
		},
		Metrics: e.stepMetrics(step),
		Errors: internalflows.StepErrors{
			EngineNotReady: ErrEngineNotReady,
		},
	}
}

func newFlowID() string {
	return uuid.NewString()
}
