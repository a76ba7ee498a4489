// Package metrics wires prometheus/client_golang counters and gauges
// for the gateway, exposed on GET /metrics. Replaces the teacher's
// hand-rolled serverMetrics (cmd/server/main.go) with a standard
// ecosystem metrics registry, since nothing in SPEC_FULL.md's
// Non-goals excludes observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostgate_http_requests_total",
		Help: "Total HTTP requests by route and status class.",
	}, []string{"route", "status"})

	RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghostgate_http_requests_in_flight",
		Help: "Number of HTTP requests currently being served.",
	})

	GhostscriptJobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghostgate_ghostscript_jobs_queued",
		Help: "Number of Ghostscript/mutool jobs waiting for an admission slot.",
	})

	GhostscriptJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ghostgate_ghostscript_job_duration_seconds",
		Help: "Ghostscript/mutool job duration by task name.",
	}, []string{"task"})

	QuotaReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostgate_quota_reservations_total",
		Help: "Quota reservation outcomes by allowed/denied.",
	}, []string{"outcome"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
