// Package quota is the Quota Coordinator (spec.md §4.9): reserves,
// commits, and releases usage units against the backend's per-user
// monthly allowance. Ported from original_source/quota.rs.
package quota

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/metrics"
	"github.com/toricodesthings/ghostgate/internal/plans"
)

// Reservation mirrors original_source/quota.rs's QuotaReservation.
type Reservation struct {
	Allowed         bool
	ReservationID   string
	PlanID          plans.PlanId
	MonthlyQuota    int64
	HasMonthlyQuota bool
	TotalThisMonth  int64
	PendingUnits    int64
}

type subscriptionRecord struct {
	Plan   *string `json:"plan"`
	Status *string `json:"status"`
}

type reserveResult struct {
	Allowed        bool            `json:"allowed"`
	ReservationID  *string         `json:"reservationId"`
	TotalThisMonth json.RawMessage `json:"totalThisMonth"`
	PendingUnits   json.RawMessage `json:"pendingUnits"`
}

// ReserveUnitsForClerkUser looks up the user's active subscription
// (falling back to Free when absent/inactive), then asks the backend
// to reserve units against that plan's monthly quota.
func ReserveUnitsForClerkUser(ctx context.Context, client *backend.Client, clerkID string, units int64) (Reservation, error) {
	raw, err := client.Query(ctx, "subscriptions:get", map[string]any{"userId": clerkID})
	if err != nil {
		return Reservation{}, fmt.Errorf("fetch subscription for quota reservation: %w", err)
	}

	planID := plans.Free
	if len(raw) > 0 && string(raw) != "null" {
		var sub subscriptionRecord
		if err := json.Unmarshal(raw, &sub); err != nil {
			return Reservation{}, fmt.Errorf("decode subscription record: %w", err)
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

	monthlyQuota, hasQuota := plans.MonthlyUnits(planID)

	args := map[string]any{
		"clerkId": clerkID,
		"units":   units,
	}
	if hasQuota {
		args["monthlyQuota"] = monthlyQuota
	} else {
		args["monthlyQuota"] = nil
	}

	reserveRaw, err := client.Action(ctx, "usage:reserveForClerkUser", args)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve usage units (clerk_id=%s, units=%d): %w", clerkID, units, err)
	}

	var result reserveResult
	if err := json.Unmarshal(reserveRaw, &result); err != nil {
		return Reservation{}, fmt.Errorf("decode reserve result: %w", err)
	}

	totalThisMonth, err := backend.CoerceInt64(result.TotalThisMonth)
	if err != nil {
		return Reservation{}, fmt.Errorf("decode totalThisMonth: %w", err)
	}
	pendingUnits, _, err := backend.CoerceOptionalInt64(result.PendingUnits)
	if err != nil {
		return Reservation{}, fmt.Errorf("decode pendingUnits: %w", err)
	}

	reservationID := ""
	if result.ReservationID != nil {
		reservationID = *result.ReservationID
	}

	if result.Allowed {
		metrics.QuotaReservationsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.QuotaReservationsTotal.WithLabelValues("denied").Inc()
	}

	return Reservation{
		Allowed:         result.Allowed,
		ReservationID:   reservationID,
		PlanID:          planID,
		MonthlyQuota:    monthlyQuota,
		HasMonthlyQuota: hasQuota,
		TotalThisMonth:  totalThisMonth,
		PendingUnits:    pendingUnits,
	}, nil
}

// CommitReservationForClerkUser finalizes a prior reservation, counting
// its units against the user's usage for good.
func CommitReservationForClerkUser(ctx context.Context, client *backend.Client, clerkID, reservationID string) (bool, error) {
	raw, err := client.Action(ctx, "usage:commitReservationForClerkUser", map[string]any{
		"clerkId":       clerkID,
		"reservationId": reservationID,
	})
	if err != nil {
		return false, fmt.Errorf("commit usage reservation: %w", err)
	}

	var result struct {
		Committed bool `json:"committed"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("decode commit result: %w", err)
	}
	return result.Committed, nil
}

// ReleaseReservationForClerkUser returns a prior reservation's units to
// the pool without counting them against usage. Callers MUST call
// exactly one of Commit/Release per successful Reserve.
func ReleaseReservationForClerkUser(ctx context.Context, client *backend.Client, clerkID, reservationID string) error {
	_, err := client.Action(ctx, "usage:releaseReservationForClerkUser", map[string]any{
		"clerkId":       clerkID,
		"reservationId": reservationID,
	})
	if err != nil {
		return fmt.Errorf("release usage reservation: %w", err)
	}
	return nil
}
