package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var httpLog = New("http")

// RequestIDMiddleware tags each HTTP request with an ID and logs its outcome.
// Event-stream subscriptions are long lived, so only their end is logged and at debug level.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		streaming := strings.HasPrefix(r.URL.Path, "/api/subscribe/")

		start := time.Now()
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"took", duration,
		}
		switch {
		case wrapped.statusCode >= 500:
			httpLog.ErrorContext(ctx, "request failed", args...)
		case wrapped.statusCode >= 400:
			httpLog.WarnContext(ctx, "request rejected", args...)
		case streaming:
			httpLog.DebugContext(ctx, "subscription closed", args...)
		default:
			httpLog.InfoContext(ctx, "request completed", args...)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
