package goRecovery

import (
	"errors"
	"time"

	internalflows "github.com/MrEthical07/goRecovery/internal/flows"
)

// Builder assembles an Engine. A Builder can be used for exactly one Build.
type Builder struct {
	config    Config
	transport Transport
	notifier  Notifier
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport sets the network client used by every Workflow. Required.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithNotifier sets the receiver of user-visible notifications.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit sink. Audit must also be enabled in Config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.transport == nil {
		return nil, ErrTransportRequired
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	engine := &Engine{
		config:    cfg,
		transport: b.transport,
		notifier:  notifier,
		audit:     NewAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		newFlowID: newFlowID,
		sleep:     internalflows.SleepContext,
		now:       time.Now,
	}

	b.built = true

	return engine, nil
}
