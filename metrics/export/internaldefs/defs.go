package internaldefs

import (
	"strconv"

	goRecovery "github.com/MrEthical07/goRecovery"
)

// Label is one name/value pair on a series.
type Label struct {
	Key   string
	Value string
}

// Series binds one engine counter to the labels it is published under.
type Series struct {
	ID     goRecovery.MetricID
	Labels []Label
}

// Family is a set of counters sharing a name, told apart by labels.
type Family struct {
	Name   string
	Help   string
	Series []Series
}

// Histogram names one exported latency histogram.
type Histogram struct {
	ID   goRecovery.MetricID
	Name string
	Help string
}

const (
	// AuditDroppedName is the counter exported for dispatcher backpressure.
	AuditDroppedName = "gorecovery_audit_dropped_total"
	AuditDroppedHelp = "Audit events lost to dispatcher backpressure."
)

func stepSeries(step string, attempt, success, failure goRecovery.MetricID) []Series {
	return []Series{
		{ID: attempt, Labels: []Label{{"step", step}, {"outcome", "attempt"}}},
		{ID: success, Labels: []Label{{"step", step}, {"outcome", "success"}}},
		{ID: failure, Labels: []Label{{"step", step}, {"outcome", "failure"}}},
	}
}

// Families lists every counter family in export order.
var Families = []Family{
	{
		Name: "gorecovery_step_total",
		Help: "Recovery step submissions that passed validation, by outcome.",
		Series: append(append(
			stepSeries("otp_request", goRecovery.MetricOTPRequestAttempt, goRecovery.MetricOTPRequestSuccess, goRecovery.MetricOTPRequestFailure),
			stepSeries("otp_verify", goRecovery.MetricOTPVerifyAttempt, goRecovery.MetricOTPVerifySuccess, goRecovery.MetricOTPVerifyFailure)...),
			stepSeries("password_reset", goRecovery.MetricPasswordResetAttempt, goRecovery.MetricPasswordResetSuccess, goRecovery.MetricPasswordResetFailure)...),
	},
	{
		Name: "gorecovery_rejected_total",
		Help: "Submissions stopped locally or by an expired session.",
		Series: []Series{
			{ID: goRecovery.MetricValidationRejected, Labels: []Label{{"reason", "validation"}}},
			{ID: goRecovery.MetricSessionExpired, Labels: []Label{{"reason", "session_expired"}}},
		},
	},
	{
		Name:   "gorecovery_retries_total",
		Help:   "Silent retries of network calls.",
		Series: []Series{{ID: goRecovery.MetricMutationRetry}},
	},
	{
		Name: "gorecovery_proxy_refused_total",
		Help: "Proxy requests answered without a backend response.",
		Series: []Series{
			{ID: goRecovery.MetricProxyRateLimited, Labels: []Label{{"reason", "rate_limited"}}},
			{ID: goRecovery.MetricProxyUpstreamError, Labels: []Label{{"reason", "upstream_error"}}},
		},
	},
}

// Histograms lists every latency histogram.
var Histograms = []Histogram{
	{ID: goRecovery.MetricUpstreamLatency, Name: "gorecovery_upstream_latency_seconds", Help: "Upstream call latency."},
}

// BucketBounds are the finite upper bounds, in seconds, of the first seven
// engine buckets. The eighth bucket is +Inf.
var BucketBounds = [7]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// BucketLabel renders the le value of bucket i.
func BucketLabel(i int) string {
	if i >= len(BucketBounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(BucketBounds[i], 'g', -1, 64)
}

// Cumulative converts raw per-bucket counts into cumulative counts,
// zero-filling missing buckets.
func Cumulative(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
