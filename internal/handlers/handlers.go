package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/apperror"
	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/middleware"
	"github.com/toricodesthings/ghostgate/internal/pdftoolchain"
	"github.com/toricodesthings/ghostgate/internal/plans"
	"github.com/toricodesthings/ghostgate/internal/procrunner"
	"github.com/toricodesthings/ghostgate/internal/quota"
	"github.com/toricodesthings/ghostgate/internal/upload"
)

// Health reports backend and Ghostscript connectivity, matching
// original_source/handlers.rs's health.
func (s *State) Health(w http.ResponseWriter, r *http.Request) {
	gsStatus, gsErr := checkGhostscript(r.Context())

	raw, err := s.Backend.Query(r.Context(), "health:get", map[string]any{})
	suffix := ""
	if gsErr != "" {
		suffix = fmt.Sprintf(" (Error: %s)", gsErr)
	}

	if err != nil {
		log.Error().Err(err).Msg("failed to connect to backend")
		writePlainText(w, http.StatusInternalServerError,
			fmt.Sprintf("Gateway server is online. Backend status: unreachable. Ghostscript status: %s%s", gsStatus, suffix))
		return
	}

	writePlainText(w, http.StatusOK,
		fmt.Sprintf("Gateway server is online. Backend status: %q. Ghostscript status: %s%s", string(raw), gsStatus, suffix))
}

func checkGhostscript(ctx context.Context) (string, string) {
	result, err := procrunner.Run(ctx, 5*time.Second, "gs", "-v")
	if err != nil {
		return "Not checked", err.Error()
	}
	return strings.TrimSpace(result.Stdout), ""
}

// NotFound is the router's catch-all fallback.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writePlainText(w, http.StatusNotFound, "Not Found")
}

// TestDocument is the unauthenticated preflight-test endpoint: analyze
// only, no quota reservation, 5MB cap.
func (s *State) TestDocument(w http.ResponseWriter, r *http.Request) {
	uploaded, err := upload.Save(r, 5<<20)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	defer func() { _ = uploaded.Remove() }()

	var analysis pdftoolchain.Analysis
	runErr := s.Gate.Run(r.Context(), "preflight-test", func(ctx context.Context) error {
		pageCount, err := s.Adapter.PageCount(ctx, uploaded.TempPath)
		if err != nil {
			return err
		}
		result, err := s.Adapter.Analyze(ctx, uploaded.TempPath, uploaded.OriginalName, pageCount)
		analysis = result
		return err
	})
	if runErr != nil {
		log.Error().Err(runErr).Msg("failed to analyze PDF")
		writeErr(w, http.StatusInternalServerError, apperror.Sanitize(runErr))
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// PreflightDocument is the authenticated (cookie/session) preflight
// endpoint.
func (s *State) PreflightDocument(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())
	s.preflightForUser(w, r, clerkID, 5<<20)
}

// ProcessDocumentAPI is the API-key-authenticated preflight endpoint
// with a larger upload cap.
func (s *State) ProcessDocumentAPI(w http.ResponseWriter, r *http.Request) {
	clerkID, ok := middleware.ClerkIDFromContext(r.Context())
	if !ok || strings.TrimSpace(clerkID) == "" {
		writePlainText(w, http.StatusInternalServerError, "Authenticated user missing Clerk ID.")
		return
	}
	s.preflightForUser(w, r, clerkID, 20<<20)
}

// logProcessingStage logs a stage's wall-clock duration when
// LOG_PROCESSING_TIMINGS is enabled, matching original_source/state.rs's
// optional per-stage instrumentation.
func (s *State) logProcessingStage(stage string, start time.Time) {
	if !s.Config.LogProcessingTimings {
		return
	}
	log.Debug().Str("stage", stage).Dur("elapsed", time.Since(start)).Msg("processing stage complete")
}

func (s *State) preflightForUser(w http.ResponseWriter, r *http.Request, clerkID string, maxBytes int64) {
	requestStart := time.Now()
	defer s.logProcessingStage("preflight", requestStart)

	uploaded, err := upload.Save(r, maxBytes)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	defer func() { _ = uploaded.Remove() }()

	// Two separate admission slots, with the quota reservation's
	// backend RPC made outside either one, matching spec.md §2's
	// canonical pipeline: admit -> page_count -> reserve -> admit ->
	// analyze -> commit/release. Holding one permit across the network
	// round trip to reserve would needlessly starve other subprocess
	// jobs of a scarce slot.
	ctx := r.Context()

	var pageCount int
	if err := s.Gate.Run(ctx, "preflight-page-count", func(ctx context.Context) error {
		n, err := s.Adapter.PageCount(ctx, uploaded.TempPath)
		pageCount = n
		return err
	}); err != nil {
		log.Error().Err(err).Msg("failed to get page count for preflight")
		writeErr(w, http.StatusInternalServerError, apperror.Sanitize(err))
		return
	}

	units := int64(pageCount) * 2
	reservation, err := quota.ReserveUnitsForClerkUser(ctx, s.Backend, clerkID, units)
	if err != nil {
		log.Error().Err(err).Msg("failed to reserve quota for preflight")
		writeErr(w, http.StatusInternalServerError, "Failed to reserve usage quota.")
		return
	}
	if !reservation.Allowed {
		writeQuotaExceeded(w, reservation, units)
		return
	}
	if reservation.ReservationID == "" {
		writeErr(w, http.StatusInternalServerError, "Failed to create usage reservation.")
		return
	}

	var analysis pdftoolchain.Analysis
	analyzeErr := s.Gate.Run(ctx, "preflight-analyze", func(ctx context.Context) error {
		result, err := s.Adapter.Analyze(ctx, uploaded.TempPath, uploaded.OriginalName, pageCount)
		analysis = result
		return err
	})
	if analyzeErr != nil {
		if _, releaseErr := releaseQuietly(ctx, s.Backend, clerkID, reservation.ReservationID); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("failed to release usage reservation after analyze failure")
		}
		log.Error().Err(analyzeErr).Msg("preflight analyze failed")
		writeErr(w, http.StatusInternalServerError, apperror.Sanitize(analyzeErr))
		return
	}

	if committed, commitErr := quota.CommitReservationForClerkUser(ctx, s.Backend, clerkID, reservation.ReservationID); commitErr != nil {
		log.Warn().Err(commitErr).Msg("failed to commit usage reservation")
	} else if !committed {
		log.Warn().Msg("usage reservation commit failed")
	}

	writeJSON(w, http.StatusOK, analysis)
}

func releaseQuietly(ctx context.Context, client *backend.Client, clerkID, reservationID string) (struct{}, error) {
	return struct{}{}, quota.ReleaseReservationForClerkUser(ctx, client, clerkID, reservationID)
}

type grayscaleMode int

const (
	grayscaleModePreview grayscaleMode = iota
	grayscaleModeProduction
)

func parseGrayscaleMode(raw string) (grayscaleMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" || normalized == "preview" {
		return grayscaleModePreview, nil
	}
	if normalized == "production" {
		return grayscaleModeProduction, nil
	}
	return grayscaleModePreview, fmt.Errorf(`invalid mode. use "preview" or "production"`)
}

// ConvertDocumentToGrayscale is the cookie-authenticated grayscale
// endpoint.
func (s *State) ConvertDocumentToGrayscale(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())
	s.grayscaleForUser(w, r, clerkID)
}

// ConvertDocumentToGrayscaleAPI is the API-key-authenticated grayscale
// endpoint.
func (s *State) ConvertDocumentToGrayscaleAPI(w http.ResponseWriter, r *http.Request) {
	clerkID, ok := middleware.ClerkIDFromContext(r.Context())
	if !ok || strings.TrimSpace(clerkID) == "" {
		writePlainText(w, http.StatusInternalServerError, "Authenticated user missing Clerk ID.")
		return
	}
	s.grayscaleForUser(w, r, clerkID)
}

func (s *State) grayscaleForUser(w http.ResponseWriter, r *http.Request, clerkID string) {
	requestStart := time.Now()
	defer s.logProcessingStage("grayscale", requestStart)

	uploaded, err := upload.Save(r, 20<<20)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	mode, err := parseGrayscaleMode(uploaded.Mode)
	if err != nil {
		_ = uploaded.Remove()
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := strings.ToLower(strings.TrimSpace(uploaded.Engine))

	baseName := pdftoolchain.SanitizeBaseName(strings.TrimSuffix(filepath.Base(uploaded.OriginalName), filepath.Ext(uploaded.OriginalName)))
	outputName := baseName + "-grayscale.pdf"
	outputPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s-grayscale.pdf", baseName, uuid.NewString()))

	// Deferred (not called inline) so both temp files are removed on
	// every exit path, including a recovered panic mid-request
	// (spec.md Testable Property #2).
	defer func() {
		_ = uploaded.Remove()
		_ = removeIfExists(outputPath)
	}()

	ctx := r.Context()

	var pageCount int
	if err := s.Gate.Run(ctx, "grayscale-page-count", func(ctx context.Context) error {
		n, err := s.Adapter.PageCount(ctx, uploaded.TempPath)
		pageCount = n
		return err
	}); err != nil {
		log.Error().Err(err).Msg("failed to get page count for grayscale")
		writeErr(w, http.StatusInternalServerError, apperror.Sanitize(err))
		return
	}

	units := int64(pageCount)
	reservation, err := quota.ReserveUnitsForClerkUser(ctx, s.Backend, clerkID, units)
	if err != nil {
		log.Error().Err(err).Msg("failed to reserve quota for grayscale")
		writeErr(w, http.StatusInternalServerError, "Failed to reserve usage quota.")
		return
	}
	if !reservation.Allowed {
		writeQuotaExceeded(w, reservation, units)
		return
	}
	if reservation.ReservationID == "" {
		writeErr(w, http.StatusInternalServerError, "Failed to create usage reservation.")
		return
	}

	convErr := s.Gate.Run(ctx, "grayscale-conversion", func(ctx context.Context) error {
		switch {
		case engine == "mutool":
			return s.Adapter.ConvertGrayscaleMutool(ctx, uploaded.TempPath, outputPath)
		case mode == grayscaleModeProduction:
			return s.Adapter.ConvertGrayscaleProduction(ctx, uploaded.TempPath, outputPath, s.Adapter.ProductionOptions)
		default:
			return s.Adapter.ConvertGrayscale(ctx, uploaded.TempPath, outputPath)
		}
	})
	if convErr != nil {
		if _, releaseErr := releaseQuietly(ctx, s.Backend, clerkID, reservation.ReservationID); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("failed to release usage reservation after conversion failure")
		}
		log.Error().Err(convErr).Msg("grayscale conversion failed")
		writeErr(w, http.StatusInternalServerError, apperror.Sanitize(convErr))
		return
	}

	if committed, commitErr := quota.CommitReservationForClerkUser(ctx, s.Backend, clerkID, reservation.ReservationID); commitErr != nil {
		log.Warn().Err(commitErr).Msg("failed to commit reservation")
	} else if !committed {
		log.Warn().Msg("usage reservation commit failed")
	}

	pdfBytes, err := readFile(outputPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to read grayscale output")
		writeErr(w, http.StatusInternalServerError, "Failed to send grayscale PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pdftoolchain.SanitizeFilenameForHeader(outputName)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdfBytes)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeUploadError(w http.ResponseWriter, err error) {
	var uploadErr *upload.Error
	if !errors.As(err, &uploadErr) {
		writeErr(w, http.StatusInternalServerError, "Failed to parse upload")
		return
	}

	switch uploadErr.Kind {
	case upload.KindMissingFile:
		writeErr(w, http.StatusBadRequest, "File not found")
	case upload.KindUnsupportedFileType:
		writeErr(w, http.StatusBadRequest, "Only PDF files are supported")
	case upload.KindFileTooLarge:
		writeErr(w, http.StatusBadRequest, "File exceeds upload limit")
	default:
		writeErr(w, http.StatusInternalServerError, "Failed to parse upload")
	}
}

func writeQuotaExceeded(w http.ResponseWriter, reservation quota.Reservation, unitsRequested int64) {
	var monthlyQuota any
	if reservation.HasMonthlyQuota {
		monthlyQuota = reservation.MonthlyQuota
	}
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":          "Monthly quota exceeded.",
		"plan":           string(reservation.PlanID),
		"monthlyQuota":   monthlyQuota,
		"unitsThisMonth": reservation.TotalThisMonth,
		"pendingUnits":   reservation.PendingUnits,
		"unitsRequested": unitsRequested,
	})
}

// GenerateAPIKey issues a new API key for the authenticated user.
func (s *State) GenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())
	raw, err := s.Backend.Action(r.Context(), "apiKeys:generate", map[string]any{"userId": clerkID})
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		writeErr(w, http.StatusInternalServerError, "Error generating API key")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"apiKey": json.RawMessage(raw)})
}

// ListAPIKeys lists the authenticated user's API keys.
func (s *State) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())
	raw, err := s.Backend.Query(r.Context(), "apiKeys:list", map[string]any{"userId": clerkID})
	if err != nil {
		log.Error().Err(err).Msg("failed to list API keys")
		writeErr(w, http.StatusInternalServerError, "Error listing API keys")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// DeleteAPIKey revokes an API key by id.
func (s *State) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writePlainText(w, http.StatusBadRequest, "Missing API key ID.")
		return
	}

	_, err := s.Backend.Action(r.Context(), "apiKeys:deleteApiKey", map[string]any{
		"clerkId":  clerkID,
		"apiKeyId": id,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to delete API key")
		writePlainText(w, http.StatusInternalServerError, "Error deleting API key.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "API key deleted successfully."})
}

// GetSubscription returns the caller's subscription record, defaulting
// to a free/inactive shape when none exists.
func (s *State) GetSubscription(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())
	raw, err := s.Backend.Query(r.Context(), "subscriptions:get", map[string]any{"userId": clerkID})
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch subscription")
		writePlainText(w, http.StatusInternalServerError, "Error fetching subscription")
		return
	}
	if len(raw) == 0 || string(raw) == "null" {
		writeJSON(w, http.StatusOK, map[string]any{"plan": string(plans.Free), "status": "inactive"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
