package migrator

import "github.com/pterm/pterm"

// Logger is the structured logging contract the migrator accepts,
// grounded on xataio-pgroll's pkg/migrations/logger.go: a small
// level-based interface backed by pterm, with a no-op implementation for
// callers that don't want any output.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

// NewLogger returns a Logger backed by pterm's default structured
// logger.
func NewLogger() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

func (l *ptermLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args))
}

func (l *ptermLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.logger.Args(args))
}

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Info(msg string, args ...any) {}
func (l *noopLogger) Warn(msg string, args ...any) {}

// defaultLogger returns a Logger that never panics when l is nil.
func defaultLogger(l Logger) Logger {
	if l != nil {
		return l
	}
	return NewNoopLogger()
}
