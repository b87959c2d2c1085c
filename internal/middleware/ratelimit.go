package middleware

import (
	"context"
	"net/http"
	"strconv"

	"hospital-patient-access/internal/platform/logger"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

// burster es opcional: si el limiter expone su capacidad se publica en X-RateLimit-Limit.
type burster interface {
	Burst() int
}

// RateLimit responde 429 cuando el limiter niega. Si el limiter falla (Redis caído)
// se deja pasar el request: fail open.
func RateLimit(l Limiter, key func(r *http.Request) string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, err := l.Allow(r.Context(), key(r))
			if err != nil {
				if log != nil {
					log.Warn("rate limiter unavailable, failing open", map[string]any{"err": err})
				}
				next.ServeHTTP(w, r)
				return
			}

			if b, ok := l.(burster); ok {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(b.Burst()))
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				WriteError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
