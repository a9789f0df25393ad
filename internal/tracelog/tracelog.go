// Package tracelog provides debug tracing: CCACHE_DEBUG_INCLUDED (log
// every include file decision) and CCACHE_INTERNAL_TRACE (log every
// major state transition the orchestrator makes). The default is a
// no-op logger, so production call sites carry no conditionals.
package tracelog

import (
	"go.uber.org/zap"
)

// Logger wraps a *zap.Logger, defaulting to a no-op so call sites
// never need a nil check.
type Logger struct {
	z *zap.Logger
}

// New returns a development-mode (human-readable, stderr) logger when
// enabled is true, and a no-op logger otherwise.
func New(enabled bool) *Logger {
	if !enabled {
		return &Logger{z: zap.NewNop()}
	}
	z, err := zap.NewDevelopment()
	if err != nil {
		return &Logger{z: zap.NewNop()}
	}
	return &Logger{z: z}
}

// Sync flushes any buffered log output.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}

// IncludeDecision logs one file's accept/skip/refuse outcome during
// include scanning, under CCACHE_DEBUG_INCLUDED.
func (l *Logger) IncludeDecision(path, decision, reason string) {
	l.z.Debug("include", zap.String("path", path), zap.String("decision", decision), zap.String("reason", reason))
}

// Trace logs one orchestrator state transition, under
// CCACHE_INTERNAL_TRACE.
func (l *Logger) Trace(state string, fields ...zap.Field) {
	l.z.Debug(state, fields...)
}

// Stat logs the final outcome code, always emitted at Info level when
// the logger is enabled.
func (l *Logger) Stat(kind string) {
	l.z.Info("outcome", zap.String("stat", kind))
}
