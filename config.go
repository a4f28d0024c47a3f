package goRecovery

import (
	"errors"
	"time"
)

// Config holds the tunables of an Engine. It is copied on Build and treated
// as immutable afterwards.
type Config struct {
	Workflow WorkflowConfig
	Mutation MutationConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
WORKFLOW CONFIG
====================================
*/

// WorkflowConfig controls step behavior of a Workflow.
type WorkflowConfig struct {
	// NotifySuccess sends an info notification carrying the server message
	// after each successful step.
	NotifySuccess bool
	// StepTimeout bounds a single submission including retries. Zero leaves
	// the deadline to the caller's context and the transport.
	StepTimeout time.Duration
}

/*
====================================
MUTATION CONFIG
====================================
*/

// MutationConfig is the retry policy applied around each network call.
// Validation failures and session-expired failures are never retried.
type MutationConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	// RetryClientErrors allows the silent retry for generic 4xx responses.
	// 429 is never retried.
	RetryClientErrors bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used when Builder.WithConfig is
// not called.
func DefaultConfig() Config {
	return Config{
		Workflow: WorkflowConfig{
			NotifySuccess: true,
			StepTimeout:   0,
		},
		Mutation: MutationConfig{
			MaxRetries:        1,
			RetryDelay:        time.Second,
			RetryClientErrors: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Workflow
	if c.Workflow.StepTimeout < 0 {
		return errors.New("Workflow StepTimeout must be >= 0")
	}

	// Mutation
	if c.Mutation.MaxRetries < 0 {
		return errors.New("Mutation MaxRetries must be >= 0")
	}
	if c.Mutation.MaxRetries > 1 {
		return errors.New("Mutation MaxRetries must be <= 1")
	}
	if c.Mutation.RetryDelay < 0 {
		return errors.New("Mutation RetryDelay must be >= 0")
	}
	if c.Mutation.RetryDelay > 30*time.Second {
		return errors.New("Mutation RetryDelay must be <= 30s")
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
