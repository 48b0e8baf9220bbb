// Package middleware provides HTTP middleware for the sync server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/hpsync/internal/logging"
)

// Logger logs one line per request with its outcome and timing. Entries carry
// the chi request id through logging.FromContext.
//
// Log fields:
//   - method, path: the request line
//   - status: response status code
//   - bytes: response body size
//   - duration_ms: processing time
//   - ip: client address after TrustedRealIP
//   - actor: the X-Actor-ID header, when sent
//
// Server errors are logged at warn level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		}
		if actor := r.Header.Get(ActorHeader); actor != "" {
			attrs = append(attrs, "actor", actor)
		}
		logging.FromContext(r.Context()).Log(r.Context(), level, "request", attrs...)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code and size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying ResponseWriter to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
