package services

import (
	"context"
	"strings"
	"time"

	"market-research-tracker/internal/logging"
	"market-research-tracker/internal/models"
	"market-research-tracker/internal/store"
)

// SweeperStore is the persistence surface the recovery sweep needs
type SweeperStore interface {
	ListStaleTasks(ctx context.Context, cutoff time.Time) ([]models.RunningTask, error)
	ListFailedTasks(ctx context.Context, notBefore, notAfter time.Time) ([]store.FailedTask, error)
	MarkFailed(ctx context.Context, taskRunID, errorMessage string) error
	ResetForRetry(ctx context.Context, taskRunID string) error
}

// Sweeper is the recovery path for tasks orphaned by crashes or missed
// completions: stale running rows get probed against the result endpoint, and
// recently failed rows with transient-looking errors get resurrected.
type Sweeper struct {
	store   SweeperStore
	tracker *TaskService

	staleAfter   time.Duration
	retryMinAge  time.Duration
	retryMaxAge  time.Duration
	probeTimeout time.Duration
	now          func() time.Time
}

// SweeperConfig holds the age thresholds of the sweep
type SweeperConfig struct {
	StaleAfter   time.Duration
	RetryMinAge  time.Duration
	RetryMaxAge  time.Duration
	ProbeTimeout time.Duration
}

func NewSweeper(st SweeperStore, tracker *TaskService, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		store:        st,
		tracker:      tracker,
		staleAfter:   cfg.StaleAfter,
		retryMinAge:  cfg.RetryMinAge,
		retryMaxAge:  cfg.RetryMaxAge,
		probeTimeout: cfg.ProbeTimeout,
		now:          time.Now,
	}
}

// Sweep runs one full recovery pass. Individual task failures don't abort
// the pass; only listing failures do.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if err := s.sweepStale(ctx); err != nil {
		return err
	}
	return s.retryFailed(ctx)
}

// sweepStale probes tasks stuck in a non-completed state past the stale
// cutoff. A task whose result is ready gets finalized; one the upstream no
// longer knows gets failed; anything ambiguous is left for the next pass.
func (s *Sweeper) sweepStale(ctx context.Context) error {
	log := logging.WithComponent("sweeper")
	cutoff := s.now().Add(-s.staleAfter)

	tasks, err := s.store.ListStaleTasks(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		log.Info().Int("count", len(tasks)).Msg("probing stale tasks")
	}

	for _, task := range tasks {
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		_, err := s.tracker.Finalize(probeCtx, task.TaskRunID)
		cancel()

		if err == nil {
			log.Info().Str("task_run_id", task.TaskRunID).Msg("stale task had a result, finalized")
			continue
		}
		if isGoneUpstream(err) {
			log.Warn().Str("task_run_id", task.TaskRunID).Msg("stale task unknown upstream, marking failed")
			if mErr := s.store.MarkFailed(ctx, task.TaskRunID, "task not found upstream"); mErr != nil {
				log.Error().Err(mErr).Str("task_run_id", task.TaskRunID).Msg("failed to mark stale task failed")
			}
			continue
		}
		// Probably still running or a transient probe failure.
		log.Debug().Str("task_run_id", task.TaskRunID).Err(err).Msg("stale task probe inconclusive, leaving")
	}
	return nil
}

func isGoneUpstream(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "invalid task")
}

// retryFailed resurrects failed tasks whose recorded error looks transient
// and whose age falls inside the retry window: old enough that the original
// watcher is gone, young enough that the upstream run may still be
// retrievable.
func (s *Sweeper) retryFailed(ctx context.Context) error {
	log := logging.WithComponent("sweeper")
	now := s.now()

	tasks, err := s.store.ListFailedTasks(ctx, now.Add(-s.retryMinAge), now.Add(-s.retryMaxAge))
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if !IsRecoverableError(task.ErrorMessage) {
			continue
		}
		log.Info().Str("task_run_id", task.TaskRunID).Str("error", task.ErrorMessage).Msg("resurrecting failed task")

		if err := s.store.ResetForRetry(ctx, task.TaskRunID); err != nil {
			log.Error().Err(err).Str("task_run_id", task.TaskRunID).Msg("failed to reset task for retry")
			continue
		}
		s.tracker.Register(task.TaskRunID, models.TaskMetadata{
			Industry:  task.Industry,
			Geography: task.Geography,
			Details:   task.Details,
		}, "")
		s.tracker.Watch(task.TaskRunID)
	}
	return nil
}
