package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/halcyonlabs/halcyon-backend/api/responses"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/redis"
)

// RateLimit applies a fixed-window limit per authenticated user. Requests
// without a user context fall back to the remote address.
func RateLimit(client *redis.Client, limit int64, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			scope := UserIDFromContext(r.Context())
			if scope == "" {
				scope = r.RemoteAddr
			}

			allowed, count, err := client.FixedWindowAllow(r.Context(), scope, limit, window)
			if err != nil {
				// Rate limiting is advisory; a redis failure never blocks
				// the request.
				if logg != nil {
					logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "rate limit check failed")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				err := pkgerrors.New(pkgerrors.CodeRateLimit, fmt.Sprintf("rate limit exceeded (%d requests)", count))
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
