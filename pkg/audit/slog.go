package audit

import (
	"context"
	"errors"
	"log/slog"
)

// SlogLogger writes audit events to a structured logger. Violations are
// logged at warn, accesses at info.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger on top of l. A nil l uses
// slog.Default.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l.With("component", "audit")}
}

// Log records the event.
func (s *SlogLogger) Log(ctx context.Context, e Event) error {
	attrs := []any{
		"event_id", e.ID,
		"actor", e.Actor,
		"operation", e.Operation,
	}
	if e.Principal != "" {
		attrs = append(attrs, "principal", e.Principal)
	}
	if e.Table != "" {
		attrs = append(attrs, "table", e.Table)
	}
	if e.Target != "" {
		attrs = append(attrs, "target", e.Target)
	}
	if len(e.Params) > 0 {
		attrs = append(attrs, "params", e.Params)
	}

	if e.Kind == KindViolation {
		attrs = append(attrs, "reason", e.Reason)
		s.logger.WarnContext(ctx, "security violation", attrs...)
		return nil
	}
	s.logger.InfoContext(ctx, "data access", attrs...)
	return nil
}

// MultiLogger fans an event out to several loggers.
type MultiLogger []Logger

// Log records the event in every logger, joining their errors.
func (m MultiLogger) Log(ctx context.Context, e Event) error {
	var errs []error
	for _, l := range m {
		if err := l.Log(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify interface compliance.
var (
	_ Logger = (*SlogLogger)(nil)
	_ Logger = MultiLogger(nil)
)
