package goRecovery

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one recovery counter.
type MetricID uint16

const (
	// MetricOTPRequestAttempt counts submitted contact steps that passed validation.
	MetricOTPRequestAttempt MetricID = iota
	// MetricOTPRequestSuccess counts OTPs issued.
	MetricOTPRequestSuccess
	// MetricOTPRequestFailure counts failed OTP requests.
	MetricOTPRequestFailure
	// MetricOTPVerifyAttempt counts submitted OTPs that passed validation.
	MetricOTPVerifyAttempt
	// MetricOTPVerifySuccess counts accepted OTPs.
	MetricOTPVerifySuccess
	// MetricOTPVerifyFailure counts rejected OTPs.
	MetricOTPVerifyFailure
	// MetricPasswordResetAttempt counts submitted new passwords that passed validation.
	MetricPasswordResetAttempt
	// MetricPasswordResetSuccess counts completed recoveries.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure counts failed resets.
	MetricPasswordResetFailure
	// MetricValidationRejected counts submissions stopped before the network.
	MetricValidationRejected
	// MetricSessionExpired counts failures classified as an expired session.
	MetricSessionExpired
	// MetricMutationRetry counts silent retries.
	MetricMutationRetry
	// MetricProxyRateLimited counts OTP requests refused by the proxy throttle.
	MetricProxyRateLimited
	// MetricProxyUpstreamError counts proxy calls that never reached the backend.
	MetricProxyUpstreamError
	// MetricUpstreamLatency is the latency histogram of network calls.
	MetricUpstreamLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the first seven latency
// buckets; anything slower lands in the eighth.
var latencyBounds = [histBucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus the upstream latency
// histogram. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricUpstreamLatency {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d when id is MetricUpstreamLatency and latency
// histograms are on. Other IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricUpstreamLatency {
		return
	}
	m.latency[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricUpstreamLatency {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < MetricUpstreamLatency; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricUpstreamLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
