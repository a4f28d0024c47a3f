package goRecovery

import "github.com/MrEthical07/goRecovery/internal/audit"

// AuditDispatcher delivers events to a sink from a background goroutine.
// A nil dispatcher discards events. It implements AuditSink.
type AuditDispatcher = audit.Dispatcher

// NewAuditDispatcher returns nil when cfg.Enabled is false. Callers own the
// returned dispatcher and must Close it.
func NewAuditDispatcher(cfg AuditConfig, sink AuditSink) *AuditDispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
