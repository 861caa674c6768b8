package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger is the global logger instance
var Logger *slog.Logger

// InitLogger initializes the global logger at info level.
// Production uses JSON, development uses text.
func InitLogger(production bool) {
	InitLoggerWithLevel(production, slog.LevelInfo)
}

// InitLoggerWithLevel initializes the global logger with a specific level
func InitLoggerWithLevel(production bool, level slog.Level) {
	Logger = slog.New(newHandler(os.Stdout, production, level))
	slog.SetDefault(Logger)
}

func newHandler(w io.Writer, production bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if production {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func logger() *slog.Logger {
	if Logger == nil {
		InitLogger(false)
	}
	return Logger
}

// WithContext returns a logger carrying the request id set by the router
func WithContext(ctx context.Context) *slog.Logger {
	if id := middleware.GetReqID(ctx); id != "" {
		return logger().With("request_id", id)
	}
	return logger()
}

// Info logs an info message
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Fatal logs an error message and exits
func Fatal(msg string, args ...any) {
	logger().Error(msg, args...)
	os.Exit(1)
}

// WithSymbol returns a logger for one live ticker symbol
func WithSymbol(symbol string) *slog.Logger {
	return logger().With("symbol", symbol)
}

// WithFeed returns a logger for one scheduled feed
func WithFeed(feed string) *slog.Logger {
	return logger().With("feed", feed)
}

// WithError returns a logger carrying err
func WithError(err error) *slog.Logger {
	return logger().With("error", err)
}
