package middleware

// Context keys for middleware data storage.
type contextKey string

const (
	RequestIDContextKey contextKey = "request_id"
)

// HTTP headers used across the admin API.
const (
	RequestIDHeader = "X-Request-ID"

	AuthorizationHeader = "Authorization"

	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)
