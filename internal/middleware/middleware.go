// Package middleware is the gateway's HTTP middleware chain: identity
// verification, API-key auth, per-route rate limiting, recovery, and
// access logging.
//
// Grounded on original_source/middleware.rs (require_auth,
// require_auth_and_sync, api_key_auth, preflight_test_rate_limit,
// api_rate_limit, client_identity) and the teacher's withX chain style
// in cmd/server/main.go (withRecovery/withLogging), adapted to
// go-chi/chi/v5's middleware signature.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/identity"
	"github.com/toricodesthings/ghostgate/internal/metrics"
	"github.com/toricodesthings/ghostgate/internal/ratelimit"
)

type contextKey int

const (
	clerkIDContextKey contextKey = iota
)

// ClerkIDFromContext returns the authenticated user's identity-provider
// subject id, set by RequireAuth/RequireAuthAndSync/APIKeyAuth.
func ClerkIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clerkIDContextKey).(string)
	return id, ok
}

// WithClerkID stashes clerkID in ctx under the same key
// ClerkIDFromContext reads, exported so handler tests can exercise an
// authenticated handler directly without driving the real auth chain.
func WithClerkID(ctx context.Context, clerkID string) context.Context {
	return context.WithValue(ctx, clerkIDContextKey, clerkID)
}

func withClerkID(r *http.Request, clerkID string) *http.Request {
	return r.WithContext(WithClerkID(r.Context(), clerkID))
}

// RequireAuth verifies the bearer token and stashes its subject claim
// in the request context. It does not sync the user record.
func RequireAuth(verifier *identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyBearerToken(r.Context(), authHeader)
			if err != nil {
				log.Warn().Err(err).Msg("authorization failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, withClerkID(r, claims.Sub))
		})
	}
}

// RequireAuthAndSync is RequireAuth plus a best-effort sync of the
// user's primary email into the backend. The sync runs before the
// handler is called; its failures are logged, never surfaced to the
// caller.
func RequireAuthAndSync(verifier *identity.Verifier, directory *identity.DirectoryClient, backendClient *backend.Client, clerkSecretConfigured bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyBearerToken(r.Context(), authHeader)
			if err != nil {
				log.Warn().Err(err).Msg("authorization failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			clerkID := claims.Sub

			if clerkSecretConfigured {
				email, err := directory.GetPrimaryEmail(r.Context(), clerkID)
				if err != nil {
					log.Error().Err(err).Str("user_id", clerkID).Msg("failed to load identity-provider user")
				} else if email == "" {
					log.Warn().Str("user_id", clerkID).Msg("user has no primary email in identity provider")
				} else if _, syncErr := backendClient.Action(r.Context(), "users:sync", map[string]any{
					"clerkId": clerkID,
					"email":   email,
				}); syncErr != nil {
					log.Error().Err(syncErr).Msg("failed to sync user to backend")
				}
			}

			next.ServeHTTP(w, withClerkID(r, clerkID))
		})
	}
}

// APIKeyAuth authenticates via the X-API-Key header against the
// backend's apiKeys:authenticateAndTrackUsage action.
func APIKeyAuth(backendClient *backend.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if strings.TrimSpace(apiKey) == "" {
				http.Error(w, "Unauthorized: API Key is required.", http.StatusUnauthorized)
				return
			}

			raw, err := backendClient.Action(r.Context(), "apiKeys:authenticateAndTrackUsage", map[string]any{"key": apiKey})
			if err != nil {
				log.Error().Err(err).Msg("API key authentication failed")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if len(raw) == 0 || string(raw) == "null" {
				http.Error(w, "Unauthorized: Invalid API Key.", http.StatusUnauthorized)
				return
			}

			var user struct {
				ClerkID string `json:"clerkId"`
			}
			if err := json.Unmarshal(raw, &user); err != nil {
				log.Error().Err(err).Msg("failed to decode backend user from API key auth")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, withClerkID(r, user.ClerkID))
		})
	}
}

// RateLimit enforces limiter against the caller's client identity
// (spec.md's client_identity: X-Forwarded-For/X-Real-IP when
// trustProxy, else the raw socket address).
func RateLimit(limiter *ratelimit.Limiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIdentity(r, trustProxy)
			if !limiter.Allow(key) {
				http.Error(w, "Too many requests from this IP, please try again after 15 minutes", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentity(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if first != "" {
				return first
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
			return real
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "unknown"
	}
	return host
}

// Recovery recovers from handler panics and logs them, matching the
// teacher's withRecovery.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Msg("recovered from panic")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// AccessLog logs method/path/status/duration for every request,
// matching the teacher's withLogging wrapWriter pattern.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.RequestsInFlight.Inc()
		defer metrics.RequestsInFlight.Dec()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		metrics.RequestsTotal.WithLabelValues(r.URL.Path, statusClass(ww.status)).Inc()

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func statusClass(status int) string {
	switch status / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "other"
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
