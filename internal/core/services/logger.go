package services

import (
	"log/slog"

	"github.com/fortescwb/connectors/internal/core/ports"
)

// slogLogger implements ports.Logger over log/slog, the teacher's
// logging library of choice (see webhook.go, dispatcher.go,
// redis_repo.go). With returns a new child built by slog's
// Logger.With, which carries the parent's attributes plus the new
// ones; the parent is never mutated.
type slogLogger struct {
	l *slog.Logger
}

// NewLogger wraps a *slog.Logger as the runtime's scoped logger. A nil
// base falls back to slog.Default().
func NewLogger(base *slog.Logger) ports.Logger {
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{l: base}
}

func (s *slogLogger) With(args ...any) ports.Logger {
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
