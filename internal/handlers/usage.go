package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/middleware"
	"github.com/toricodesthings/ghostgate/internal/plans"
)

type usageSummary struct {
	Plan           string `json:"plan"`
	TotalUnits     int64  `json:"totalUnits"`
	UnitsThisMonth int64  `json:"unitsThisMonth"`
	PendingUnits   int64  `json:"pendingUnits"`
	MonthlyQuota   any    `json:"monthlyQuota"`
	RemainingUnits any    `json:"remainingUnits"`
}

// GetUsage reports the caller's current-month usage against their
// plan's monthly quota, matching original_source/handlers.rs's
// get_usage aggregation.
func (s *State) GetUsage(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())

	subRaw, err := s.Backend.Query(r.Context(), "subscriptions:get", map[string]any{"userId": clerkID})
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch subscription for usage")
		writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}

	planID := plans.Free
	if len(subRaw) > 0 && string(subRaw) != "null" {
		var sub struct {
			Plan   *string `json:"plan"`
			Status *string `json:"status"`
		}
		if err := json.Unmarshal(subRaw, &sub); err != nil {
			log.Error().Err(err).Msg("failed to decode subscription for usage")
			writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
			return
		}
		status := ""
		if sub.Status != nil {
			status = *sub.Status
		}
		if plans.IsSubscriptionActive(status) {
			plan := ""
			if sub.Plan != nil {
				plan = *sub.Plan
			}
			planID = plans.ResolvePlanId(plan)
		}
	}

	usageRaw, err := s.Backend.Query(r.Context(), "usage:getForClerkUser", map[string]any{"clerkId": clerkID})
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch usage totals")
		writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}

	var totals struct {
		TotalUnits     json.RawMessage `json:"totalUnits"`
		TotalThisMonth json.RawMessage `json:"totalThisMonth"`
		PendingUnits   json.RawMessage `json:"pendingUnits"`
	}
	if len(usageRaw) > 0 && string(usageRaw) != "null" {
		if err := json.Unmarshal(usageRaw, &totals); err != nil {
			log.Error().Err(err).Msg("failed to decode usage totals")
			writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
			return
		}
	}

	totalUnits, _, err := backend.CoerceOptionalInt64(totals.TotalUnits)
	if err != nil {
		log.Error().Err(err).Msg("failed to coerce total units")
		writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	unitsThisMonth, err := backend.CoerceInt64(totals.TotalThisMonth)
	if err != nil {
		log.Error().Err(err).Msg("failed to coerce usage total")
		writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	pendingUnits, _, err := backend.CoerceOptionalInt64(totals.PendingUnits)
	if err != nil {
		log.Error().Err(err).Msg("failed to coerce pending units")
		writeErr(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}

	monthlyQuota, hasQuota := plans.MonthlyUnits(planID)
	var quota, remaining any
	if hasQuota {
		quota = monthlyQuota
		left := monthlyQuota - unitsThisMonth - pendingUnits
		if left < 0 {
			left = 0
		}
		remaining = left
	}

	writeJSON(w, http.StatusOK, usageSummary{
		Plan:           string(planID),
		TotalUnits:     totalUnits,
		UnitsThisMonth: unitsThisMonth,
		PendingUnits:   pendingUnits,
		MonthlyQuota:   quota,
		RemainingUnits: remaining,
	})
}
