// Package synclog is the structured logger Database and its subsystems
// share, a thin, once-initialized wrapper around log/slog.
package synclog

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Config configures the process-wide logger.
type Config struct {
	// Level is one of DEBUG, INFO, WARN, ERROR; anything else is INFO.
	Level string
	// JSON selects slog's JSON handler over its text handler.
	JSON      bool
	AddSource bool
}

// Init installs the process-wide logger. Only the first call takes
// effect; later calls are no-ops, so packages that want a logger without
// owning startup (like database.go) can call Get directly and still pick
// up whatever main configured.
func Init(cfg Config) {
	once.Do(func() {
		var level slog.Level
		switch cfg.Level {
		case "DEBUG":
			level = slog.LevelDebug
		case "WARN":
			level = slog.LevelWarn
		case "ERROR":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
		var handler slog.Handler
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(os.Stdout, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// Get returns the process-wide logger, defaulting to INFO/JSON if Init
// was never called (a library embedding Database need not call Init
// itself).
func Get() *slog.Logger {
	if logger == nil {
		Init(Config{Level: "INFO", JSON: true})
	}
	return logger
}

type traceIDKey struct{}

// WithTraceID attaches traceID to ctx for later retrieval by FromContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// FromContext returns a logger annotated with the trace id WithTraceID
// attached to ctx, if any. Database's commit path logs through it; nothing
// in this module calls WithTraceID, so a trace id appears only when the
// caller's context carries one.
func FromContext(ctx context.Context) *slog.Logger {
	l := Get()
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return l.With("trace_id", traceID)
	}
	return l
}
