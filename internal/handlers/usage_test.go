package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/middleware"
)

func newUsageBackend(t *testing.T, sub map[string]any, usage map[string]any) *backend.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		switch req.Path {
		case "subscriptions:get":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": sub})
		case "usage:getForClerkUser":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": usage})
		default:
			t.Fatalf("unexpected query path %q", req.Path)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return backend.New(server.Client(), server.URL)
}

func usageRequest(t *testing.T, clerkID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	return req.WithContext(middleware.WithClerkID(req.Context(), clerkID))
}

func TestGetUsageDefaultsToFreePlanWithNoSubscription(t *testing.T) {
	client := newUsageBackend(t, nil, map[string]any{
		"totalUnits":     50,
		"totalThisMonth": 10,
		"pendingUnits":   0,
	})
	s := &State{Backend: client}

	rec := httptest.NewRecorder()
	s.GetUsage(rec, usageRequest(t, "clerk_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body usageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "free", body.Plan)
	require.EqualValues(t, 50, body.TotalUnits)
	require.EqualValues(t, 10, body.UnitsThisMonth)
	require.EqualValues(t, 0, body.PendingUnits)
	require.EqualValues(t, 400, body.MonthlyQuota)
	require.EqualValues(t, 390, body.RemainingUnits)
}

func TestGetUsageComputesRemainingUnitsForActivePlan(t *testing.T) {
	client := newUsageBackend(t,
		map[string]any{"plan": "pro", "status": "active"},
		map[string]any{"totalUnits": 1000, "totalThisMonth": 900, "pendingUnits": 50},
	)
	s := &State{Backend: client}

	rec := httptest.NewRecorder()
	s.GetUsage(rec, usageRequest(t, "clerk_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body usageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "pro", body.Plan)
	require.EqualValues(t, 25_000, body.MonthlyQuota)
	require.EqualValues(t, 24_050, body.RemainingUnits)
}

func TestGetUsageRemainingUnitsNeverGoesNegative(t *testing.T) {
	client := newUsageBackend(t,
		map[string]any{"plan": "free", "status": "active"},
		map[string]any{"totalUnits": 2000, "totalThisMonth": 500, "pendingUnits": 100},
	)
	s := &State{Backend: client}

	rec := httptest.NewRecorder()
	s.GetUsage(rec, usageRequest(t, "clerk_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body usageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 0, body.RemainingUnits)
}

func TestGetUsageEnterpriseHasNoMonthlyQuota(t *testing.T) {
	client := newUsageBackend(t,
		map[string]any{"plan": "enterprise", "status": "active"},
		map[string]any{"totalUnits": 1, "totalThisMonth": 1, "pendingUnits": 0},
	)
	s := &State{Backend: client}

	rec := httptest.NewRecorder()
	s.GetUsage(rec, usageRequest(t, "clerk_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body["monthlyQuota"])
	require.Nil(t, body["remainingUnits"])
}

func TestGetUsageFallsBackToFreeWhenSubscriptionCanceled(t *testing.T) {
	client := newUsageBackend(t,
		map[string]any{"plan": "business", "status": "canceled"},
		map[string]any{"totalUnits": 10, "totalThisMonth": 10, "pendingUnits": 0},
	)
	s := &State{Backend: client}

	rec := httptest.NewRecorder()
	s.GetUsage(rec, usageRequest(t, "clerk_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body usageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "free", body.Plan)
}
