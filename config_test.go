package goRecovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Workflow.NotifySuccess || cfg.Mutation.MaxRetries != 1 || cfg.Mutation.RetryDelay != time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "step timeout set",
			mutate:    func(c *Config) { c.Workflow.StepTimeout = 10 * time.Second },
			wantValid: true,
		},
		{
			name:   "negative step timeout",
			mutate: func(c *Config) { c.Workflow.StepTimeout = -time.Second },
		},
		{
			name:      "retries disabled",
			mutate:    func(c *Config) { c.Mutation.MaxRetries = 0 },
			wantValid: true,
		},
		{
			name:   "more than one retry",
			mutate: func(c *Config) { c.Mutation.MaxRetries = 3 },
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Mutation.MaxRetries = -1 },
		},
		{
			name:   "negative retry delay",
			mutate: func(c *Config) { c.Mutation.RetryDelay = -time.Millisecond },
		},
		{
			name:   "retry delay too long",
			mutate: func(c *Config) { c.Mutation.RetryDelay = time.Minute },
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
		},
		{
			name: "audit with buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 8
			},
			wantValid: true,
		},
		{
			name:   "latency without metrics",
			mutate: func(c *Config) { c.Metrics.EnableLatencyHistograms = true },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBuilderRequiresTransport(t *testing.T) {
	_, err := New().Build()
	if !errors.Is(err, ErrTransportRequired) {
		t.Fatalf("expected ErrTransportRequired, got %v", err)
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mutation.MaxRetries = 5
	if _, err := New().WithConfig(cfg).WithTransport(newFakeTransport()).Build(); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithTransport(newFakeTransport())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderMetricsToggles(t *testing.T) {
	engine, err := New().
		WithTransport(newFakeTransport()).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	cfg := engine.Config()
	if !cfg.Metrics.Enabled || !cfg.Metrics.EnableLatencyHistograms {
		t.Fatalf("expected metrics toggles applied, got %+v", cfg.Metrics)
	}
	if _, ok := engine.MetricsSnapshot().Histograms[MetricUpstreamLatency]; !ok {
		t.Fatal("expected latency histogram in snapshot")
	}
}

func TestEngineFlowIDsAreUnique(t *testing.T) {
	engine, _ := buildTestEngine(t, testConfig(), newFakeTransport(), nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := engine.Start().FlowID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty flow id %q", id)
		}
		seen[id] = true
	}
}

func TestNilEngineIsSafe(t *testing.T) {
	var e *Engine
	e.Close()
	if e.AuditDropped() != 0 {
		t.Fatal("nil engine must report zero drops")
	}
	if len(e.MetricsSnapshot().Counters) != 0 {
		t.Fatal("nil engine must report empty metrics")
	}
	if _, err := e.Start().SubmitContact(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
