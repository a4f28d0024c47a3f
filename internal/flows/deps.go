package flows

// StepMetrics maps step outcomes to root MetricID values. Negative IDs are
// skipped by the caller's MetricInc.
type StepMetrics struct {
	Attempt            int
	Success            int
	Failure            int
	ValidationRejected int
	SessionExpired     int
	Retry              int
	Latency            int
}

// StepErrors carries the root sentinel errors a flow may return.
type StepErrors struct {
	EngineNotReady error
}
