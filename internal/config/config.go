// Package config loads ghostgate's configuration from the process
// environment (plus .env/.env.local files), mirroring
// original_source/config.rs and main.rs's load_env_files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port       string
	TrustProxy bool

	TLSKeyPath  string
	TLSCertPath string

	ConvexURL string

	ClerkSecretKey string
	ClerkIssuer    string
	ClerkAPIBase   string

	StripeSecretKey          string
	StripeWebhookSecret      string
	StripePriceIDStarter     string
	StripePriceIDPro         string
	StripePriceIDBusiness    string
	StripePriceIDEnterprise  string

	FrontendURL string

	GhostscriptConcurrency    int64
	GhostscriptCommandTimeout time.Duration
	MutoolCommandTimeout      time.Duration
	LogGhostscriptTimings     bool
	LogTaskQueueTimings       bool
	LogProcessingTimings      bool

	GrayscaleProductionForceBlackText   bool
	GrayscaleProductionForceBlackVector bool
	GrayscaleProductionBlackThresholdL  float64
	GrayscaleProductionBlackThresholdC  float64

	MaxUploadBodyBytes int64

	PreflightTestRateLimitWindow time.Duration
	PreflightTestRateLimitMax    int
	APIRateLimitWindow           time.Duration
	APIRateLimitMax              int

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// LoadEnvFiles loads .env/.env.local from the current working
// directory and the executable's directory, matching
// original_source/main.rs's load_env_files search order. Returns the
// paths it actually loaded.
func LoadEnvFiles() []string {
	var roots []string
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}

	seen := map[string]bool{}
	var loaded []string
	for _, root := range roots {
		if seen[root] {
			continue
		}
		seen[root] = true

		for _, name := range []string{".env", ".env.local"} {
			path := filepath.Join(root, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := godotenv.Load(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to load env file")
				continue
			}
			loaded = append(loaded, path)
		}
	}
	return loaded
}

func Load() Config {
	return Config{
		Port:       envStr("PORT", "9001"),
		TrustProxy: envBoolDefaultTrue("TRUST_PROXY"),

		TLSKeyPath:  envStr("TLS_KEY_PATH", ""),
		TLSCertPath: envStr("TLS_CERT_PATH", ""),

		ConvexURL: normalizeConvexURL(envStr("CONVEX_URL", "")),

		ClerkSecretKey: envStr("CLERK_SECRET_KEY", ""),
		ClerkIssuer:    envStr("CLERK_ISSUER", ""),
		ClerkAPIBase:   envStr("CLERK_API_BASE", "https://api.clerk.com/v1"),

		StripeSecretKey:         envStr("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:     envStr("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceIDStarter:    envStr("STRIPE_PRICE_ID_STARTER", ""),
		StripePriceIDPro:        envStr("STRIPE_PRICE_ID_PRO", ""),
		StripePriceIDBusiness:   envStr("STRIPE_PRICE_ID_BUSINESS", ""),
		StripePriceIDEnterprise: envStr("STRIPE_PRICE_ID_ENTERPRISE", ""),

		FrontendURL: envStr("FRONTEND_URL", ""),

		GhostscriptConcurrency:    envInt64("GHOSTSCRIPT_CONCURRENCY", envInt64("PROCESSING_CONCURRENCY", 3)),
		GhostscriptCommandTimeout: envDur("GHOSTSCRIPT_COMMAND_TIMEOUT_MS", 120*time.Second),
		MutoolCommandTimeout:      envDur("MUTOOL_COMMAND_TIMEOUT_MS", 120*time.Second),
		LogGhostscriptTimings:     envBool("LOG_GHOSTSCRIPT_TIMINGS", false),
		LogTaskQueueTimings:       envBool("LOG_TASK_QUEUE_TIMINGS", false),
		LogProcessingTimings:      envBool("LOG_PROCESSING_TIMINGS", false),

		GrayscaleProductionForceBlackText:   envBool("GRAYSCALE_PRODUCTION_FORCE_BLACK_TEXT", true),
		GrayscaleProductionForceBlackVector: envBool("GRAYSCALE_PRODUCTION_FORCE_BLACK_VECTOR", false),
		GrayscaleProductionBlackThresholdL:  envFloat("GRAYSCALE_PRODUCTION_BLACK_THRESHOLD_L", 20.0),
		GrayscaleProductionBlackThresholdC:  envFloat("GRAYSCALE_PRODUCTION_BLACK_THRESHOLD_C", 8.0),

		MaxUploadBodyBytes: envInt64("MAX_UPLOAD_BODY_BYTES", 25<<20),

		PreflightTestRateLimitWindow: envDur("PREFLIGHT_TEST_RATE_LIMIT_WINDOW", 15*time.Minute),
		PreflightTestRateLimitMax:    envInt("PREFLIGHT_TEST_RATE_LIMIT_MAX", 5),
		APIRateLimitWindow:           envDur("API_RATE_LIMIT_WINDOW", 15*time.Minute),
		APIRateLimitMax:              envInt("API_RATE_LIMIT_MAX", 100),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       envDur("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),
	}
}

// Validate reports configuration errors that should prevent startup.
// CONVEX_URL is required per original_source/config.rs; every other
// field degrades gracefully and is logged as a warning by the caller.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ConvexURL) == "" {
		return fmt.Errorf("CONVEX_URL environment variable is not set")
	}
	return nil
}

// HasTLS reports whether both a cert and key path are configured and
// exist on disk, matching original_source/main.rs's valid_tls_paths.
func (c Config) HasTLS() bool {
	if c.TLSCertPath == "" || c.TLSKeyPath == "" {
		return false
	}
	if _, err := os.Stat(c.TLSCertPath); err != nil {
		return false
	}
	if _, err := os.Stat(c.TLSKeyPath); err != nil {
		return false
	}
	return true
}

func normalizeConvexURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(trimmed, "wss://"); ok {
		return "https://" + rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "ws://"); ok {
		return "http://" + rest
	}
	return trimmed
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	normalized := strings.ToLower(strings.TrimSpace(v))
	return normalized == "1" || normalized == "true"
}

// envBoolDefaultTrue matches original_source/config.rs's trust_proxy
// parsing: true unless the value is explicitly one of
// false/0/off/no.
func envBoolDefaultTrue(key string) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "off", "no":
		return false
	default:
		return true
	}
}
