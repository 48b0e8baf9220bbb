package core

// scheduler.go runs unprocessed imports in the background.
//
// It is the long-running form of "hpsync run": on every tick each import that
// still has INITED rows is dispatched with the configured removal flags. A
// failing import is logged and does not stop the scheduler.

import (
	"context"
	"log/slog"
	"time"
)

// AutoRunConfig holds configuration for the auto-run scheduler.
type AutoRunConfig struct {
	Interval           time.Duration // How often to run (default: 15m)
	RemoveOtherCohorts bool
	RemoveOtherGroups  bool
	Deferred           bool // Enqueue rows instead of reconciling inline
}

// DefaultAutoRunInterval is used when AutoRunConfig.Interval is zero.
const DefaultAutoRunInterval = 15 * time.Minute

// StartAutoRunScheduler dispatches unprocessed imports immediately, then
// every Interval. It returns when ctx is cancelled.
func (s *Service) StartAutoRunScheduler(ctx context.Context, cfg AutoRunConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAutoRunInterval
	}
	slog.Info("auto-run scheduler started",
		"interval", cfg.Interval,
		"remove_cohorts", cfg.RemoveOtherCohorts,
		"remove_groups", cfg.RemoveOtherGroups,
		"deferred", cfg.Deferred,
	)

	s.runAutoRunJob(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("auto-run scheduler stopped")
			return
		case <-ticker.C:
			s.runAutoRunJob(ctx, cfg)
		}
	}
}

// runAutoRunJob performs one dispatch cycle.
func (s *Service) runAutoRunJob(ctx context.Context, cfg AutoRunConfig) {
	start := time.Now()

	results, err := s.RunUnprocessed(ctx, RunRequest{
		RemoveOtherCohorts: cfg.RemoveOtherCohorts,
		RemoveOtherGroups:  cfg.RemoveOtherGroups,
		Deferred:           cfg.Deferred,
		ActorID:            s.systemActorID,
	})
	if err != nil {
		slog.Error("auto-run failed", "error", err)
		return
	}

	var dispatched, failed int
	for _, r := range results {
		dispatched += r.Dispatched
		failed += r.Failed
	}
	slog.Info("auto-run completed",
		"imports", len(results),
		"rows_dispatched", dispatched,
		"rows_failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
