package auth

import (
	"log/slog"
	"net/http"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/observability"
	"github.com/wandlerhq/wandler/pkg/transport"
)

// Middleware creates HTTP middleware from a Chain and optional RateLimiter.
// It checks the bypass list, runs authentication, injects the identity into
// the request context, and optionally enforces rate limits. Rejections are
// written as client error envelopes.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check bypass list.
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// Run auth chain.
			result := chain.Authenticate(r.Context(), r)

			if result.Decision == No {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				transport.WriteErrorResponse(w, api.NewAuthenticationError("authentication required"), http.StatusUnauthorized)
				return
			}

			if result.Decision != Yes || result.Identity == nil {
				transport.WriteErrorResponse(w, api.NewAuthenticationError("authentication required"), http.StatusUnauthorized)
				return
			}

			// Validate identity.
			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteErrorResponse(w, api.NewAPIError("internal authentication error"), http.StatusInternalServerError)
				return
			}

			slog.Debug("authentication succeeded",
				"subject", result.Identity.Subject,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			// Rate limiting (if configured).
			if limiter != nil {
				if err := limiter.Allow(r.Context(), result.Identity); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", result.Identity.Subject,
						"tier", result.Identity.ServiceTier,
					)
					observability.RateLimitRejectedTotal.WithLabelValues(result.Identity.ServiceTier).Inc()
					transport.WriteErrorResponse(w, &api.Error{
						Type:    api.ErrorTypeRateLimit,
						Message: "rate limit exceeded",
					}, http.StatusTooManyRequests)
					return
				}
			}

			// Inject identity into context.
			ctx := ContextWithIdentity(r.Context(), result.Identity)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DefaultBypassEndpoints lists endpoints that skip authentication: the
// service info page, the supervisor's probe targets, and metrics.
var DefaultBypassEndpoints = []string{"/", "/health", "/test-connection", "/metrics"}
