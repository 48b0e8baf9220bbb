package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/logging"
)

// WorkerConfig tunes a Worker. Zero values take the defaults applied by
// NewWorker.
type WorkerConfig struct {
	Workers           int
	PollInterval      time.Duration
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
}

// Worker claims tasks from a Repository and runs them through a Handler.
type Worker struct {
	repo    Repository
	handler Handler
	cfg     WorkerConfig

	once  sync.Once
	group *errgroup.Group
}

func NewWorker(repo Repository, handler Handler, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 60 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.LeaseDuration / 2
	}

	return &Worker{
		repo:    repo,
		handler: handler,
		cfg:     cfg,
	}
}

// Start launches the worker loops. They stop when ctx is cancelled; call
// Wait to block until they have returned.
func (w *Worker) Start(ctx context.Context) {
	w.once.Do(func() {
		logging.FromContext(ctx).Info("task workers started",
			"workers", w.cfg.Workers,
			"poll_interval", w.cfg.PollInterval.String(),
			"lease", w.cfg.LeaseDuration.String(),
		)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < w.cfg.Workers; i++ {
			g.Go(func() error {
				w.workerLoop(gctx)
				return nil
			})
		}
		w.group = g
	})
}

// Wait blocks until every loop started by Start has returned.
func (w *Worker) Wait() error {
	if w.group == nil {
		return nil
	}
	return w.group.Wait()
}

func (w *Worker) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ran, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logging.FromContext(ctx).Error("task run failed", "error", err)
		}
		if !ran {
			if !sleepWithContext(ctx, w.cfg.PollInterval) {
				return
			}
		}
	}
}

// RunOnce claims and runs at most one task. It reports whether a task was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.repo.ClaimNext(ctx, w.cfg.LeaseDuration)
	if err != nil {
		return false, fmt.Errorf("claim next task: %w", err)
	}
	if task == nil {
		return false, nil
	}
	return true, w.ProcessTask(ctx, *task)
}

// ProcessTask runs one claimed task and records its outcome.
func (w *Worker) ProcessTask(ctx context.Context, task Task) error {
	ctx, log := logging.ForTask(ctx, string(task.Kind), task.ID.String())

	cmd, err := core.DecodeCommand(task.Kind, task.Payload)
	if err != nil {
		// A payload that cannot be decoded never will be.
		log.Error("task payload rejected", "error", err)
		if failErr := w.repo.Fail(ctx, task.ID, truncateReason(err.Error())); failErr != nil {
			return fmt.Errorf("%v; fail update failed: %w", err, failErr)
		}
		return err
	}

	started := time.Now()
	if err := w.runWithHeartbeat(ctx, task, cmd); err != nil {
		return w.onProcessingError(ctx, task, err)
	}

	if err := w.repo.Complete(ctx, task.ID); err != nil {
		return w.onProcessingError(ctx, task, fmt.Errorf("complete task: %w", err))
	}
	log.Info("task completed", "attempt", task.Attempts, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// runWithHeartbeat extends the task lease while the handler runs.
func (w *Worker) runWithHeartbeat(ctx context.Context, task Task, cmd core.Command) error {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.repo.Heartbeat(ctx, task.ID, w.cfg.LeaseDuration); err != nil {
					logging.FromContext(ctx).Warn("task heartbeat failed", "error", err)
				}
			}
		}
	}()

	err := w.handler(ctx, cmd)
	close(done)
	wg.Wait()
	return err
}

func (w *Worker) onProcessingError(ctx context.Context, task Task, err error) error {
	log := logging.FromContext(ctx)
	reason := truncateReason(err.Error())

	if errors.Is(err, core.ErrUnknownCommand) || task.Attempts >= task.MaxAttempts {
		log.Error("task failed", "attempt", task.Attempts, "max_attempts", task.MaxAttempts, "error", err)
		if failErr := w.repo.Fail(ctx, task.ID, reason); failErr != nil {
			return fmt.Errorf("%v; fail update failed: %w", err, failErr)
		}
		return err
	}

	log.Warn("task requeued", "attempt", task.Attempts, "max_attempts", task.MaxAttempts, "error", err)
	if requeueErr := w.repo.Requeue(ctx, task.ID, reason); requeueErr != nil {
		return fmt.Errorf("%v; requeue failed: %w", err, requeueErr)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncateReason(reason string) string {
	const maxLen = 1000
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxLen {
		return reason
	}
	return reason[:maxLen]
}
