package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDMiddleware propagates X-Request-ID, generating a UUID when the
// caller (or an upstream proxy fronting the admin API) didn't set one.
// Deploy tooling that scripts the admin API across a fleet of hosts can
// supply its own ID to correlate a single upload/activate/delete call
// across this process's logs and its own.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		r = r.WithContext(context.WithValue(r.Context(), RequestIDContextKey, id))
		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r)
	})
}

// GetRequestID returns the request ID from ctx, or "" if none was set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}
