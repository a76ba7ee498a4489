package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/admission"
	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/config"
	"github.com/toricodesthings/ghostgate/internal/handlers"
	"github.com/toricodesthings/ghostgate/internal/identity"
	"github.com/toricodesthings/ghostgate/internal/payments"
	"github.com/toricodesthings/ghostgate/internal/pdftoolchain"
	"github.com/toricodesthings/ghostgate/internal/plans"
	"github.com/toricodesthings/ghostgate/internal/router"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if loaded := config.LoadEnvFiles(); len(loaded) > 0 {
		log.Info().Strs("files", loaded).Msg("loaded env files")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	nodeEnv := strings.ToLower(strings.TrimSpace(os.Getenv("NODE_ENV")))
	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		if nodeEnv == "production" {
			log.Fatal().Msg("STRIPE_SECRET_KEY is required in production")
		}
		log.Warn().Msg("STRIPE_SECRET_KEY not set; payment endpoints will fail")
	}
	if strings.TrimSpace(cfg.ClerkIssuer) == "" {
		log.Warn().Msg("CLERK_ISSUER not set; bearer token verification will fail")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	backendClient := backend.New(httpClient, cfg.ConvexURL)
	verifier := identity.NewVerifier(httpClient, cfg.ClerkIssuer)
	directory := identity.NewDirectoryClient(httpClient, cfg.ClerkAPIBase, cfg.ClerkSecretKey)
	paymentsClient := payments.New(httpClient, cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	priceMap := plans.NewPriceMap(plans.PriceIDs{
		Starter:    cfg.StripePriceIDStarter,
		Pro:        cfg.StripePriceIDPro,
		Business:   cfg.StripePriceIDBusiness,
		Enterprise: cfg.StripePriceIDEnterprise,
	})

	adapter := pdftoolchain.Adapter{
		CommandTimeout: cfg.GhostscriptCommandTimeout,
		MutoolTimeout:  cfg.MutoolCommandTimeout,
		LogTimings:     cfg.LogGhostscriptTimings,
		ProductionOptions: pdftoolchain.ProductionOptions{
			ForceBlackText:   cfg.GrayscaleProductionForceBlackText,
			ForceBlackVector: cfg.GrayscaleProductionForceBlackVector,
			LThreshold:       &cfg.GrayscaleProductionBlackThresholdL,
			CThreshold:       &cfg.GrayscaleProductionBlackThresholdC,
		},
	}

	gate := admission.NewGate(cfg.GhostscriptConcurrency, cfg.LogTaskQueueTimings)

	state := &handlers.State{
		Config:    cfg,
		Backend:   backendClient,
		Verifier:  verifier,
		Directory: directory,
		Payments:  paymentsClient,
		PriceMap:  priceMap,
		Adapter:   adapter,
		Gate:      gate,
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := backendClient.Query(startupCtx, "health:get", map[string]any{}); err != nil {
		log.Warn().Err(err).Msg("backend health check failed at startup; continuing")
	}
	cancel()

	handler := router.New(state)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Info().Str("addr", srv.Addr).Int64("ghostscript_concurrency", cfg.GhostscriptConcurrency).Msg("ghostgate listening")

	var err error
	if cfg.HasTLS() {
		log.Info().Msg("serving with TLS")
		err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
			log.Error().Msg("TLS_CERT_PATH/TLS_KEY_PATH partially configured; falling back to plain HTTP")
		} else {
			log.Warn().Msg("TLS not configured; serving plain HTTP")
		}
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
