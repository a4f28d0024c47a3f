package otel

import (
	"context"
	"strings"
	"sync"
	"testing"

	goRecovery "github.com/MrEthical07/goRecovery"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goRecovery.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goRecovery.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goRecovery.MetricsSnapshot{
		Counters:   make(map[goRecovery.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goRecovery.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

// collectPoints keys every data point by name and its sorted attributes,
// e.g. gorecovery_step_total{outcome=success,step=otp_verify}.
func collectPoints(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	key := func(name string, attrs attribute.Set) string {
		if attrs.Len() == 0 {
			return name
		}
		parts := make([]string, 0, attrs.Len())
		for _, kv := range attrs.ToSlice() {
			parts = append(parts, string(kv.Key)+"="+kv.Value.Emit())
		}
		return name + "{" + strings.Join(parts, ",") + "}"
	}

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[key(m.Name, dp.Attributes)] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[key(m.Name, dp.Attributes)] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gorecovery-test")

	src := &fakeSource{
		snapshot: goRecovery.MetricsSnapshot{
			Counters: map[goRecovery.MetricID]uint64{
				goRecovery.MetricOTPVerifySuccess: 3,
			},
			Histograms: map[goRecovery.MetricID][]uint64{
				goRecovery.MetricUpstreamLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collectPoints(t, reader)
	want := map[string]int64{
		"gorecovery_step_total{outcome=success,step=otp_verify}":  3,
		"gorecovery_step_total{outcome=failure,step=otp_request}": 0,
		"gorecovery_rejected_total{reason=validation}":             0,
		"gorecovery_upstream_latency_seconds_bucket{le=0.05}":      1,
		"gorecovery_upstream_latency_seconds_bucket{le=1}":         5,
		"gorecovery_upstream_latency_seconds_bucket{le=+Inf}":      8,
		"gorecovery_upstream_latency_seconds_count":                8,
		"gorecovery_audit_dropped_total":                           1,
	}
	for k, v := range want {
		gotV, ok := got[k]
		if !ok {
			t.Fatalf("missing data point %s in %v", k, got)
		}
		if gotV != v {
			t.Fatalf("%s = %d, want %d", k, gotV, v)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gorecovery-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gorecovery-test")

	src := &fakeSource{
		snapshot: goRecovery.MetricsSnapshot{
			Counters: map[goRecovery.MetricID]uint64{
				goRecovery.MetricOTPRequestSuccess: 1,
			},
			Histograms: map[goRecovery.MetricID][]uint64{
				goRecovery.MetricUpstreamLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goRecovery.MetricOTPRequestSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
