package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options controls where process-level logs are written.
type Options struct {
	Level   slog.Level
	Dir     string // logs directory; empty disables file sinks
	Console bool
}

// InitLogger initializes a global logger with the specified level.
// It configures a JSON handler with source location information.
func InitLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

// InitServiceLogger wires the full sink set: a main log file, an error-only
// log file, optional console output, and the per-call router. Call records
// carrying a call_id attribute are mirrored into per-call files by the
// returned CallRouter.
func InitServiceLogger(opts Options) (*slog.Logger, *CallRouter, error) {
	var handlers []slog.Handler

	if opts.Console {
		handlers = append(handlers, slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: opts.Level}))
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, err
		}
		mainFile, err := os.OpenFile(filepath.Join(opts.Dir, "ivr-bot.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		errFile, err := os.OpenFile(filepath.Join(opts.Dir, "ivr-bot-error.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers,
			slog.NewJSONHandler(mainFile, &slog.HandlerOptions{Level: opts.Level}),
			slog.NewJSONHandler(errFile, &slog.HandlerOptions{Level: slog.LevelError}),
		)
	}

	router := NewCallRouter(filepath.Join(opts.Dir, "calls"), opts.Level)
	handlers = append(handlers, router)

	return slog.New(NewFanoutHandler(handlers...)), router, nil
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(
		slog.String("component", component),
	)
}

// NewCallLogger tags a logger with the identifiers the CallRouter keys on.
func NewCallLogger(base *slog.Logger, callID, xCallID string) *slog.Logger {
	l := base.With(slog.String("call_id", callID))
	if xCallID != "" {
		l = l.With(slog.String("x_call_id", xCallID))
	}
	return l
}

// discardWriter is used by tests that need a real file-less logger.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = discardWriter{}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
