package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/plans"
)

func handlerFor(t *testing.T, subStatus, subPlan string, reserveAllowed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
			Args []map[string]any `json:"args"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Path {
		case "subscriptions:get":
			if subStatus == "" {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": nil})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"value":  map[string]any{"plan": subPlan, "status": subStatus},
			})
		case "usage:reserveForClerkUser":
			require.Equal(t, "clerk_1", req.Args[0]["clerkId"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"value": map[string]any{
					"allowed":        reserveAllowed,
					"reservationId":  "res_1",
					"totalThisMonth": "120",
					"pendingUnits":   5,
				},
			})
		case "usage:commitReservationForClerkUser":
			require.Equal(t, "res_1", req.Args[0]["reservationId"])
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": map[string]any{"committed": true}})
		case "usage:releaseReservationForClerkUser":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": nil})
		default:
			t.Fatalf("unexpected path %q", req.Path)
		}
	}
}

func TestReserveUnitsActiveProSubscription(t *testing.T) {
	server := httptest.NewServer(handlerFor(t, "active", "pro", true))
	defer server.Close()

	client := backend.New(server.Client(), server.URL)
	res, err := ReserveUnitsForClerkUser(context.Background(), client, "clerk_1", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, plans.Pro, res.PlanID)
	require.True(t, res.HasMonthlyQuota)
	require.EqualValues(t, 25_000, res.MonthlyQuota)
	require.EqualValues(t, 120, res.TotalThisMonth)
	require.EqualValues(t, 5, res.PendingUnits)
	require.Equal(t, "res_1", res.ReservationID)
}

func TestReserveUnitsFallsBackToFreeWhenNoSubscription(t *testing.T) {
	server := httptest.NewServer(handlerFor(t, "", "", true))
	defer server.Close()

	client := backend.New(server.Client(), server.URL)
	res, err := ReserveUnitsForClerkUser(context.Background(), client, "clerk_1", 1)
	require.NoError(t, err)
	require.Equal(t, plans.Free, res.PlanID)
}

func TestReserveUnitsFallsBackToFreeWhenCanceled(t *testing.T) {
	server := httptest.NewServer(handlerFor(t, "canceled", "pro", true))
	defer server.Close()

	client := backend.New(server.Client(), server.URL)
	res, err := ReserveUnitsForClerkUser(context.Background(), client, "clerk_1", 1)
	require.NoError(t, err)
	require.Equal(t, plans.Free, res.PlanID)
}

func TestReserveUnitsEnterpriseHasNoMonthlyQuota(t *testing.T) {
	server := httptest.NewServer(handlerFor(t, "active", "enterprise", true))
	defer server.Close()

	client := backend.New(server.Client(), server.URL)
	res, err := ReserveUnitsForClerkUser(context.Background(), client, "clerk_1", 1)
	require.NoError(t, err)
	require.False(t, res.HasMonthlyQuota)
}

func TestCommitReservation(t *testing.T) {
	server := httptest.NewServer(handlerFor(t, "active", "pro", true))
	defer server.Close()

	client := backend.New(server.Client(), server.URL)
	committed, err := CommitReservationForClerkUser(context.Background(), client, "clerk_1", "res_1")
	require.NoError(t, err)
	require.True(t, committed)
}

func TestReleaseReservation(t *testing.T) {
	server := httptest.NewServer(handlerFor(t, "active", "pro", true))
	defer server.Close()

	client := backend.New(server.Client(), server.URL)
	require.NoError(t, ReleaseReservationForClerkUser(context.Background(), client, "clerk_1", "res_1"))
}
