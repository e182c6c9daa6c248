package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// statusWriter wraps http.ResponseWriter to capture the status code and
// bytes written, for the access log below.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// LoggingMiddleware writes one structured access-log line per admin API
// call: who asked (request ID, client IP), what they asked for (method,
// path, query — e.g. ?domain= on /files/metadata), and how it went (status,
// duration, response size).
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			clientIP := r.Header.Get("X-Forwarded-For")
			if clientIP == "" {
				clientIP = r.Header.Get("X-Real-IP")
			}
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			next.ServeHTTP(sw, r)

			logger.Info("admin api request",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", sw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"size_bytes", sw.size,
				"client_ip", clientIP,
				"user_agent", r.UserAgent(),
			)
		})
	}
}
