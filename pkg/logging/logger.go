package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "requestID"
	runIDKey     contextKey = "runID"
)

// LevelTrace is below debug and only enabled with -vv
const LevelTrace = slog.LevelDebug - 4

var logger atomic.Pointer[slog.Logger]

func init() {
	// Compact handler for readable console output, JSON is opt-in
	logger.Store(slog.New(NewCompactHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
}

func current() *slog.Logger {
	return logger.Load()
}

// Options selects level and output format for the process logger
type Options struct {
	Level  slog.Level
	JSON   bool
	Color  bool      // Colorize console level tags
	Output io.Writer // Defaults to stderr
}

// Configure replaces the process logger
func Configure(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = NewCompactHandler(out, handlerOpts).WithColor(opts.Color)
	}
	logger.Store(slog.New(handler))
}

// SetLevel changes the logging level, keeping the compact console format
func SetLevel(level slog.Level) {
	Configure(Options{Level: level})
}

// ParseLevel maps a verbosity name and a -v count to a level.
// An explicit name wins over the count.
func ParseLevel(verbosity string, verboseCount int) slog.Level {
	switch strings.ToLower(strings.TrimSpace(verbosity)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	switch {
	case verboseCount >= 2:
		return LevelTrace
	case verboseCount == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New returns a logger tagged with a component name. It resolves the process
// logger on every call so that Configure after package init still applies.
func New(component string) *Component {
	return &Component{name: component}
}

// Component is a named logger handle
type Component struct {
	name string
}

func (c *Component) log(ctx context.Context, level slog.Level, msg string, args []any) {
	args = append([]any{"component", c.name}, withContextIDs(ctx, args)...)
	current().Log(ctx, level, msg, args...)
}

func (c *Component) Debug(msg string, args ...any) {
	c.log(context.Background(), slog.LevelDebug, msg, args)
}

func (c *Component) DebugContext(ctx context.Context, msg string, args ...any) {
	c.log(ctx, slog.LevelDebug, msg, args)
}

func (c *Component) Info(msg string, args ...any) {
	c.log(context.Background(), slog.LevelInfo, msg, args)
}

func (c *Component) InfoContext(ctx context.Context, msg string, args ...any) {
	c.log(ctx, slog.LevelInfo, msg, args)
}

func (c *Component) Warn(msg string, args ...any) {
	c.log(context.Background(), slog.LevelWarn, msg, args)
}

func (c *Component) WarnContext(ctx context.Context, msg string, args ...any) {
	c.log(ctx, slog.LevelWarn, msg, args)
}

func (c *Component) Error(msg string, args ...any) {
	c.log(context.Background(), slog.LevelError, msg, args)
}

func (c *Component) ErrorContext(ctx context.Context, msg string, args ...any) {
	c.log(ctx, slog.LevelError, msg, args)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRunID tags the context with a fresh revalidation run ID
func WithRunID(ctx context.Context) (context.Context, string) {
	runID := uuid.NewString()
	return context.WithValue(ctx, runIDKey, runID), runID
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}

// withContextIDs prepends request and run IDs to log attributes when present
func withContextIDs(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if runID := GetRunID(ctx); runID != "" {
		args = append([]any{"runID", runID}, args...)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		args = append([]any{"requestID", requestID}, args...)
	}
	return args
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	current().Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Fatal logs at ERROR level and exits (unrecoverable bugs)
func Fatal(msg string, args ...any) {
	current().Error(msg, args...)
	os.Exit(1)
}
