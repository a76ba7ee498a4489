// Package admission is Work Admission (spec.md §4.10): a bounded gate
// in front of Ghostscript/mutool subprocess work, so request volume
// cannot spawn unbounded native processes.
//
// Grounded on original_source/state.rs's run_ghostscript_job (queue-wait
// vs run-time timing, log only when enabled) and the teacher's
// semaphore.Weighted usage in cmd/server/main.go.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/ghostgate/internal/metrics"
)

// Gate bounds concurrent Ghostscript/mutool jobs.
type Gate struct {
	sem         *semaphore.Weighted
	concurrency int64
	logTimings  bool
}

// NewGate builds a Gate admitting at most concurrency simultaneous
// jobs. logTimings enables per-job queue/run-time logging (spec.md
// LOG_TASK_QUEUE_TIMINGS).
func NewGate(concurrency int64, logTimings bool) *Gate {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Gate{sem: semaphore.NewWeighted(concurrency), concurrency: concurrency, logTimings: logTimings}
}

// Run blocks until a slot is free (or ctx is canceled), then invokes
// task while holding the slot. taskName identifies the job for
// logging.
func (g *Gate) Run(ctx context.Context, taskName string, task func(ctx context.Context) error) error {
	enqueuedAt := time.Now()
	metrics.GhostscriptJobsQueued.Inc()
	acquireErr := g.sem.Acquire(ctx, 1)
	metrics.GhostscriptJobsQueued.Dec()
	if acquireErr != nil {
		return fmt.Errorf("ghostscript queue closed: %w", acquireErr)
	}
	startedAt := time.Now()
	defer func() {
		runDuration := time.Since(startedAt)
		g.sem.Release(1)
		metrics.GhostscriptJobDuration.WithLabelValues(taskName).Observe(runDuration.Seconds())

		if g.logTimings {
			waitDuration := startedAt.Sub(enqueuedAt)
			log.Info().
				Str("queue", "ghostscript").
				Str("task", taskName).
				Dur("wait", waitDuration).
				Dur("run", runDuration).
				Msg("queue timing")
		}
	}()

	return task(ctx)
}

// Concurrency returns the configured admission limit.
func (g *Gate) Concurrency() int64 {
	return g.concurrency
}
