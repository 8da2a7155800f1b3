// Package logger provides the structured logger shared by every binary.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

// RequestIDKey is the context key the HTTP layer stores request ids under.
const RequestIDKey contextKey = "request_id"

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a logger for env: text output at debug level in development,
// JSON at info level everywhere else.
func New(env string) *Logger {
	return newWithWriter(env, os.Stdout)
}

func newWithWriter(env string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return Nop().Component(name)
	}
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithContext attaches the request id carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return &Logger{Logger: l.With(slog.String("request_id", id))}
	}
	return l
}
