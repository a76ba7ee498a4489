// Package router assembles the gateway's chi route table, grounded on
// original_source/main.rs's build_router: distinct middleware stacks
// per surface (public preflight test, cookie-authenticated process
// routes, API-key-authenticated routes, the unauthenticated Stripe
// webhook), one rate limiter for anonymous preflight tests and a
// second for the authenticated API surface.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/toricodesthings/ghostgate/internal/handlers"
	"github.com/toricodesthings/ghostgate/internal/metrics"
	"github.com/toricodesthings/ghostgate/internal/middleware"
	"github.com/toricodesthings/ghostgate/internal/ratelimit"
)

// New builds the gateway's http.Handler.
func New(s *handlers.State) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.AccessLog)
	r.Use(middleware.CORS)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Body = http.MaxBytesReader(w, req.Body, s.Config.MaxUploadBodyBytes)
			next.ServeHTTP(w, req)
		})
	})

	preflightLimiter := ratelimit.New(s.Config.PreflightTestRateLimitWindow, s.Config.PreflightTestRateLimitMax)
	apiLimiter := ratelimit.New(s.Config.APIRateLimitWindow, s.Config.APIRateLimitMax)

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/process", func(pr chi.Router) {
		pr.Group(func(public chi.Router) {
			public.Use(middleware.RateLimit(preflightLimiter, s.Config.TrustProxy))
			public.Post("/preflight-test", s.TestDocument)
		})

		pr.Group(func(private chi.Router) {
			private.Use(middleware.RateLimit(apiLimiter, s.Config.TrustProxy))
			private.Use(middleware.RequireAuthAndSync(s.Verifier, s.Directory, s.Backend, s.Config.ClerkSecretKey != ""))
			private.Post("/preflight", s.PreflightDocument)
			private.Post("/grayscale", s.ConvertDocumentToGrayscale)
		})
	})

	// Never rate-limited: the payment provider retries on failure and
	// dropping a legitimate delivery is worse than any abuse risk here,
	// matching spec.md's §4.11 note. Registered before the rate-limited
	// /api group so it bypasses that group's middleware entirely.
	r.Post("/api/stripe/webhook", s.HandleStripeWebhook)

	r.Route("/api", func(ar chi.Router) {
		ar.Use(middleware.RateLimit(apiLimiter, s.Config.TrustProxy))

		ar.Group(func(cookie chi.Router) {
			cookie.Use(middleware.RequireAuthAndSync(s.Verifier, s.Directory, s.Backend, s.Config.ClerkSecretKey != ""))

			cookie.Route("/keys", func(kr chi.Router) {
				kr.Post("/", s.GenerateAPIKey)
				kr.Get("/", s.ListAPIKeys)
				kr.Delete("/{id}", s.DeleteAPIKey)
			})

			cookie.Get("/subscription", s.GetSubscription)

			cookie.Route("/stripe", func(str chi.Router) {
				str.Post("/create-checkout-session", s.CreateCheckoutSession)
				str.Post("/sync-session", s.SyncStripeSession)
				str.Post("/create-customer-portal-session", s.CreateCustomerPortalSession)
			})
		})

		ar.Group(func(usage chi.Router) {
			usage.Use(middleware.RequireAuth(s.Verifier))
			usage.Get("/usage", s.GetUsage)
		})

		ar.Group(func(apiKey chi.Router) {
			apiKey.Use(middleware.APIKeyAuth(s.Backend))
			apiKey.Post("/process/analyze", s.ProcessDocumentAPI)
			apiKey.Post("/process/grayscale", s.ConvertDocumentToGrayscaleAPI)
		})
	})

	r.NotFound(handlers.NotFound)

	return r
}
