package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"market-research-tracker/internal/logging"
	"market-research-tracker/internal/models"
	"market-research-tracker/internal/parallel"
	"market-research-tracker/internal/store"
	"market-research-tracker/internal/validation"
)

// TrackerStore is the persistence surface the task service needs
type TrackerStore interface {
	SaveRunningTask(ctx context.Context, reportID, taskRunID string, meta models.TaskMetadata, email string) error
	GetByTaskRunID(ctx context.Context, taskRunID string) (*models.Report, error)
	CompleteReport(ctx context.Context, p store.CompleteReportParams) (*store.CompleteOutcome, error)
	MarkFailed(ctx context.Context, taskRunID, errorMessage string) error
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// ResultFetcher is the blocking result accessor of the task API
type ResultFetcher interface {
	Result(ctx context.Context, taskRunID string) (*parallel.TaskResult, error)
}

// Notifier delivers the report-ready notification
type Notifier interface {
	SendReportReady(toEmail, title, slug string) error
}

// FinalizeResult is the outcome every finalize caller observes. Callers
// racing on the same task all receive the same values.
type FinalizeResult struct {
	ReportID         string
	Slug             string
	Title            string
	AlreadyCompleted bool
}

// completion is the per-task rendezvous for racing finalize callers. The
// first caller owns the entry and does the work; later callers wait on done.
type completion struct {
	done chan struct{}
	res  FinalizeResult
	err  error
}

type registryEntry struct {
	meta  models.TaskMetadata
	email string
}

// TaskService tracks in-flight task runs and reconciles their completion.
// Any of the completion paths (stream relay, polling probe, background
// watcher, recovery sweep) may finish a task; Finalize makes them converge
// on a single durable write.
type TaskService struct {
	store    TrackerStore
	results  ResultFetcher
	slugs    *SlugAllocator
	notifier Notifier

	mu          sync.Mutex
	active      map[string]registryEntry
	completions map[string]*completion
}

// NewTaskService creates the task tracking service. notifier may be nil.
func NewTaskService(st TrackerStore, results ResultFetcher, slugs *SlugAllocator, notifier Notifier) *TaskService {
	return &TaskService{
		store:       st,
		results:     results,
		slugs:       slugs,
		notifier:    notifier,
		active:      make(map[string]registryEntry),
		completions: make(map[string]*completion),
	}
}

// Register adds a task to the process-local registry so finalize can derive
// the title without a store round-trip.
func (t *TaskService) Register(taskRunID string, meta models.TaskMetadata, email string) {
	t.mu.Lock()
	t.active[taskRunID] = registryEntry{meta: meta, email: email}
	t.mu.Unlock()
}

// AllocateSlug exposes slug allocation for repair flows
func (t *TaskService) AllocateSlug(ctx context.Context, title string) (string, error) {
	return t.slugs.Allocate(ctx, title)
}

// ActiveCount returns the number of tasks in the in-process registry
func (t *TaskService) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Finalize completes a task run exactly once: it fetches the terminal result,
// derives title and slug, sanitizes and persists the content, and notifies
// the requester. Concurrent callers for the same task block until the first
// caller finishes and then observe its outcome. A failed finalize clears the
// in-process guard so a later strategy can retry.
func (t *TaskService) Finalize(ctx context.Context, taskRunID string) (FinalizeResult, error) {
	t.mu.Lock()
	if c, ok := t.completions[taskRunID]; ok {
		t.mu.Unlock()
		select {
		case <-c.done:
			return c.res, c.err
		case <-ctx.Done():
			return FinalizeResult{}, ctx.Err()
		}
	}
	c := &completion{done: make(chan struct{})}
	t.completions[taskRunID] = c
	t.mu.Unlock()

	res, err := t.finalize(ctx, taskRunID)

	t.mu.Lock()
	c.res, c.err = res, err
	if err != nil {
		// Let a later completion path try again.
		delete(t.completions, taskRunID)
	} else {
		delete(t.active, taskRunID)
	}
	t.mu.Unlock()
	close(c.done)

	return res, err
}

func (t *TaskService) finalize(ctx context.Context, taskRunID string) (FinalizeResult, error) {
	log := logging.WithTaskRunID(taskRunID)

	result, err := t.results.Result(ctx, taskRunID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}

	meta, email := t.resolveMetadata(ctx, taskRunID)
	title := BuildReportTitle(meta)

	slugValue, err := t.slugs.Allocate(ctx, title)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}

	content := SanitizeText(result.Output.Content)
	basis := t.encodeBasis(taskRunID, result.Output.Basis)

	params := store.CompleteReportParams{
		ReportID:  uuid.NewString(),
		TaskRunID: taskRunID,
		Title:     title,
		Slug:      slugValue,
		Content:   content,
		Basis:     basis,
		Meta:      meta,
	}

	outcome, err := t.store.CompleteReport(ctx, params)
	if errors.Is(err, store.ErrSlugTaken) {
		// Lost a slug race to a concurrent report; pick the next free
		// one and try once more.
		slugValue, err = t.slugs.Allocate(ctx, title)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
		}
		params.Slug = slugValue
		outcome, err = t.store.CompleteReport(ctx, params)
	}
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}

	res := FinalizeResult{
		ReportID:         outcome.ReportID,
		Slug:             outcome.Slug,
		Title:            outcome.Title,
		AlreadyCompleted: outcome.AlreadyCompleted,
	}
	if res.AlreadyCompleted {
		log.Debug().Str("slug", res.Slug).Msg("task already finalized, returning durable row")
		return res, nil
	}

	log.Info().Str("slug", res.Slug).Msg("task finalized")

	if t.notifier != nil && email != "" {
		go func(email, title, slug string) {
			if err := t.notifier.SendReportReady(email, title, slug); err != nil {
				log := logging.WithTaskRunID(taskRunID)
				log.Warn().Err(err).Msg("report ready notification failed")
			}
		}(email, res.Title, res.Slug)
	}

	return res, nil
}

// resolveMetadata prefers the in-process registry and falls back to the
// running row persisted at submission time, which survives restarts.
func (t *TaskService) resolveMetadata(ctx context.Context, taskRunID string) (models.TaskMetadata, string) {
	t.mu.Lock()
	entry, ok := t.active[taskRunID]
	t.mu.Unlock()
	if ok {
		return entry.meta, entry.email
	}

	report, err := t.store.GetByTaskRunID(ctx, taskRunID)
	if err != nil {
		log := logging.WithTaskRunID(taskRunID)
		log.Warn().Err(err).Msg("no metadata for task, using defaults")
		return models.TaskMetadata{Industry: "Market"}, ""
	}
	return models.TaskMetadata{
		Industry:  report.Industry,
		Geography: report.Geography,
		CRESector: report.CRESector,
		Details:   report.Details,
	}, report.Email
}

// encodeBasis serializes and validates the basis payload. An invalid payload
// is dropped rather than blocking the report.
func (t *TaskService) encodeBasis(taskRunID string, basis []parallel.FieldBasis) []byte {
	if len(basis) == 0 {
		return nil
	}
	raw, err := json.Marshal(basis)
	if err != nil {
		log := logging.WithTaskRunID(taskRunID)
		log.Warn().Err(err).Msg("basis payload not serializable, dropping")
		return nil
	}
	raw = []byte(SanitizeText(string(raw)))
	if err := validation.ValidateBasis(raw); err != nil {
		log := logging.WithTaskRunID(taskRunID)
		log.Warn().Err(err).Msg("basis payload failed validation, dropping")
		return nil
	}
	return raw
}

// Watch runs the background completion path: it blocks on the result
// endpoint and finalizes when the task turns terminal. A non-recoverable
// failure marks the row failed; a recoverable one is left running for the
// recovery sweep to pick up.
func (t *TaskService) Watch(taskRunID string) {
	go func() {
		log := logging.WithTaskRunID(taskRunID)
		log.Debug().Msg("background watcher started")

		if _, err := t.Finalize(context.Background(), taskRunID); err != nil {
			if !IsRecoverableError(err.Error()) {
				log.Warn().Err(err).Msg("task failed, marking row failed")
				if mErr := t.store.MarkFailed(context.Background(), taskRunID, err.Error()); mErr != nil {
					log.Error().Err(mErr).Msg("failed to mark task failed")
				}
				return
			}
			log.Warn().Err(err).Msg("background watcher hit recoverable error, leaving task for recovery")
		}
	}()
}
