// Package logger builds the process-wide slog logger and carries
// request-scoped loggers through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
)

// Options configures the logger.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is "json" or "text". Empty selects json in production.
	Format string

	// Environment is the deployment environment (development, staging, production).
	Environment string

	// File, when set, receives a copy of every record with size-based rotation.
	File string

	// MaxSizeMB, MaxBackups and MaxAgeDays tune file rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Output overrides stdout. Used by tests.
	Output io.Writer
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Level:       "info",
		Environment: "development",
		MaxSizeMB:   10,
		MaxBackups:  3,
		MaxAgeDays:  30,
	}
}

// ParseLevel parses a level name into a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to stdout and, optionally, a rotated file.
// The returned closer flushes and closes the file sink; it is never nil.
func New(opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Clean(opts.File),
			MaxSize:    orDefault(opts.MaxSizeMB, 10), // Megabytes
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 30), // Days
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: ParseLevel(opts.Level) == slog.LevelDebug,
	}

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "text"
		if opts.Environment == "production" {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler), closer
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

// Notification-related attribute helpers.
func UserID(id string) slog.Attr          { return slog.String("user_id", id) }
func NotificationType(t string) slog.Attr { return slog.String("notification_type", t) }
func SubscriptionID(id string) slog.Attr  { return slog.String("subscription_id", id) }
func HistoryID(id string) slog.Attr       { return slog.String("history_id", id) }
func Channel(name string) slog.Attr       { return slog.String("channel", name) }
func Component(name string) slog.Attr     { return slog.String("component", name) }
func Operation(name string) slog.Attr     { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr   { return slog.Duration("latency", d) }
func RequestID(id string) slog.Attr       { return slog.String(RequestIDKey, id) }

// Err creates an error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
