package logger

import "context"

type noopLogger struct{}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(context.Context, string, ...Field)        {}
func (noopLogger) Info(context.Context, string, ...Field)         {}
func (noopLogger) Warn(context.Context, string, ...Field)         {}
func (noopLogger) Error(context.Context, string, error, ...Field) {}
func (l noopLogger) With(...Field) Logger                         { return l }
func (l noopLogger) WithComponent(string) Logger                  { return l }
func (noopLogger) Sync() error                                    { return nil }
