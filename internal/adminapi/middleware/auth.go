package middleware

import (
	"net/http"
	"strings"

	"github.com/vitaliisemenov/alert-history/internal/apierrors"
)

// BearerAuth returns middleware that requires "Authorization: Bearer <token>"
// to match the single shared admin token. There are no per-user
// roles: the admin API has exactly one credential.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(AuthorizationHeader)
			if authHeader == "" {
				writeUnauthorized(w, r, "missing Authorization header")
				return
			}

			scheme, value, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				writeUnauthorized(w, r, "Authorization header must use the Bearer scheme")
				return
			}

			if value != token {
				writeUnauthorized(w, r, "invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	err := apierrors.Unauthorized(message).WithRequestID(GetRequestID(r.Context()))
	apierrors.WriteError(w, err)
}
