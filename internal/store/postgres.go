// Package store implements the durable report store on PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"market-research-tracker/internal/models"
)

var (
	// ErrNotFound is returned when no matching row exists
	ErrNotFound = errors.New("report not found")
	// ErrSlugTaken is returned when a write loses a slug uniqueness race
	ErrSlugTaken = errors.New("slug already taken")
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed report store
type PostgresStore struct {
	db DB
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &PostgresStore{db: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB wraps an existing connection; used by tests with pgxmock.
func NewStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying pool if the store owns one
func (s *PostgresStore) Close() {
	if pool, ok := s.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
}

// EnsureSchema creates the reports and rate_limit tables if they don't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id            TEXT,
			task_run_id   TEXT NOT NULL UNIQUE,
			title         TEXT,
			slug          TEXT UNIQUE,
			industry      TEXT,
			geography     TEXT,
			cre_sector    TEXT,
			details       TEXT,
			content       TEXT,
			basis         JSONB,
			status        TEXT NOT NULL DEFAULT 'running',
			error_message TEXT,
			email         TEXT,
			is_public     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at  TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS rate_limit (
			id         BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_created_at ON rate_limit (created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRunningTask persists a freshly submitted task as a running row. A retry
// of a known task_run_id resets the row to running instead of duplicating it.
func (s *PostgresStore) SaveRunningTask(ctx context.Context, reportID, taskRunID string, meta models.TaskMetadata, email string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reports (id, task_run_id, industry, geography, cre_sector, details, status, email)
		VALUES ($1, $2, $3, $4, $5, $6, 'running', NULLIF($7, ''))
		ON CONFLICT (task_run_id) DO UPDATE
		SET status = 'running', created_at = NOW(), email = NULLIF($7, '')`,
		reportID, taskRunID, meta.Industry, meta.Geography, meta.CRESector, meta.Details, email)
	if err != nil {
		return fmt.Errorf("save running task: %w", err)
	}
	return nil
}

const reportColumns = `COALESCE(id, ''), task_run_id, COALESCE(title, ''), COALESCE(slug, ''),
	COALESCE(industry, ''), COALESCE(geography, ''), COALESCE(cre_sector, ''), COALESCE(details, ''),
	COALESCE(content, ''), basis, status, COALESCE(error_message, ''), COALESCE(email, ''),
	is_public, created_at, completed_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	var basis []byte
	err := row.Scan(&r.ID, &r.TaskRunID, &r.Title, &r.Slug,
		&r.Industry, &r.Geography, &r.CRESector, &r.Details,
		&r.Content, &basis, &r.Status, &r.ErrorMessage, &r.Email,
		&r.IsPublic, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(basis) > 0 {
		r.Basis = json.RawMessage(basis)
	}
	return &r, nil
}

// GetByTaskRunID fetches a report row by its task run identifier
func (s *PostgresStore) GetByTaskRunID(ctx context.Context, taskRunID string) (*models.Report, error) {
	row := s.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE task_run_id = $1`, taskRunID)
	return scanReport(row)
}

// GetBySlug fetches a public report by slug
func (s *PostgresStore) GetBySlug(ctx context.Context, slug string) (*models.Report, error) {
	row := s.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE slug = $1 AND is_public = TRUE`, slug)
	return scanReport(row)
}

// ListPublicReports returns completed public reports, newest first. A limit
// of zero or less returns all of them.
func (s *PostgresStore) ListPublicReports(ctx context.Context, limit int) ([]models.ReportSummary, error) {
	query := `
		SELECT COALESCE(id, ''), COALESCE(title, ''), COALESCE(slug, ''), COALESCE(industry, ''), COALESCE(geography, ''), created_at
		FROM reports
		WHERE is_public = TRUE AND status = 'completed'
		ORDER BY created_at DESC`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list public reports: %w", err)
	}
	defer rows.Close()

	var summaries []models.ReportSummary
	for rows.Next() {
		var sum models.ReportSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Slug, &sum.Industry, &sum.Geography, &sum.CreatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// ListRunningTasks returns all running rows, newest first
func (s *PostgresStore) ListRunningTasks(ctx context.Context) ([]models.RunningTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT task_run_id, COALESCE(industry, ''), COALESCE(geography, ''), COALESCE(details, ''), status, created_at
		FROM reports
		WHERE status = 'running'
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list running tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListStaleTasks returns running or failed rows created before the cutoff
func (s *PostgresStore) ListStaleTasks(ctx context.Context, cutoff time.Time) ([]models.RunningTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT task_run_id, COALESCE(industry, ''), COALESCE(geography, ''), COALESCE(details, ''), status, created_at
		FROM reports
		WHERE (status = 'running' OR status = 'failed') AND created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]models.RunningTask, error) {
	var tasks []models.RunningTask
	for rows.Next() {
		var t models.RunningTask
		if err := rows.Scan(&t.TaskRunID, &t.Industry, &t.Geography, &t.Details, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FailedTask is a failed row considered for resurrection
type FailedTask struct {
	TaskRunID    string
	Industry     string
	Geography    string
	Details      string
	ErrorMessage string
	CreatedAt    time.Time
}

// ListFailedTasks returns failed rows with an error message whose creation
// time falls inside (notAfter, notBefore]; the caller classifies the errors.
func (s *PostgresStore) ListFailedTasks(ctx context.Context, notBefore, notAfter time.Time) ([]FailedTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT task_run_id, COALESCE(industry, ''), COALESCE(geography, ''), COALESCE(details, ''), error_message, created_at
		FROM reports
		WHERE status = 'failed' AND error_message IS NOT NULL
		  AND created_at > $1 AND created_at < $2`, notAfter, notBefore)
	if err != nil {
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []FailedTask
	for rows.Next() {
		var t FailedTask
		if err := rows.Scan(&t.TaskRunID, &t.Industry, &t.Geography, &t.Details, &t.ErrorMessage, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkFailed records a terminal failure for a task
func (s *PostgresStore) MarkFailed(ctx context.Context, taskRunID, errorMessage string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reports
		SET status = 'failed', error_message = $2, completed_at = NOW()
		WHERE task_run_id = $1`, taskRunID, errorMessage)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ResetForRetry re-arms a failed row as running
func (s *PostgresStore) ResetForRetry(ctx context.Context, taskRunID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reports
		SET status = 'running', error_message = NULL, completed_at = NULL
		WHERE task_run_id = $1`, taskRunID)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	return nil
}

// CountReportsSince counts rate-limit entries created after the given time
func (s *PostgresStore) CountReportsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM rate_limit WHERE created_at > $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent reports: %w", err)
	}
	return count, nil
}

// RecordReportGeneration records one admission against the global rate limit
func (s *PostgresStore) RecordReportGeneration(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO rate_limit DEFAULT VALUES`); err != nil {
		return fmt.Errorf("record report generation: %w", err)
	}
	return nil
}

// SlugExists reports whether any row already uses the slug
func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reports WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("slug exists: %w", err)
	}
	return exists, nil
}

// CompleteReportParams carries the terminal payload written at finalize time
type CompleteReportParams struct {
	ReportID  string
	TaskRunID string
	Title     string
	Slug      string
	Content   string
	Basis     []byte
	Meta      models.TaskMetadata
}

// CompleteOutcome reports what the conditional write did
type CompleteOutcome struct {
	ReportID string
	Slug     string
	Title    string
	// AlreadyCompleted is true when a prior finalize won; the returned
	// fields describe the durable row, not the attempted write.
	AlreadyCompleted bool
}

// CompleteReport performs the conditional terminal write. The guard clause
// makes completed rows with content write-once: a losing concurrent finalize
// affects zero rows and receives the winner's values instead. If the row
// vanished it is re-inserted. A slug uniqueness violation surfaces as
// ErrSlugTaken so the caller can regenerate and retry.
func (s *PostgresStore) CompleteReport(ctx context.Context, p CompleteReportParams) (*CompleteOutcome, error) {
	var basis any
	if len(p.Basis) > 0 {
		basis = p.Basis
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE reports
		SET id = $1, title = $2, slug = $3, content = $4, basis = $5,
		    status = 'completed', error_message = NULL, completed_at = NOW(), is_public = TRUE
		WHERE task_run_id = $6 AND NOT (status = 'completed' AND content IS NOT NULL)`,
		p.ReportID, p.Title, p.Slug, p.Content, basis, p.TaskRunID)
	if err != nil {
		return nil, completeError(err)
	}
	if tag.RowsAffected() > 0 {
		return &CompleteOutcome{ReportID: p.ReportID, Slug: p.Slug, Title: p.Title}, nil
	}

	// Zero rows: either a prior finalize already won, or the row vanished.
	existing, err := s.GetByTaskRunID(ctx, p.TaskRunID)
	if err == nil && existing.Status == models.StatusCompleted && existing.Content != "" {
		return &CompleteOutcome{
			ReportID:         existing.ID,
			Slug:             existing.Slug,
			Title:            existing.Title,
			AlreadyCompleted: true,
		}, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO reports (id, task_run_id, title, slug, industry, geography, cre_sector, details,
			content, basis, status, completed_at, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'completed', NOW(), TRUE)`,
		p.ReportID, p.TaskRunID, p.Title, p.Slug, p.Meta.Industry, p.Meta.Geography,
		p.Meta.CRESector, p.Meta.Details, p.Content, basis)
	if err != nil {
		return nil, completeError(err)
	}
	return &CompleteOutcome{ReportID: p.ReportID, Slug: p.Slug, Title: p.Title}, nil
}

func completeError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		(strings.Contains(pgErr.ConstraintName, "slug") || strings.Contains(strings.ToLower(pgErr.Message), "slug")) {
		return ErrSlugTaken
	}
	return fmt.Errorf("complete report: %w", err)
}

// GetRepairCandidate finds a completed row whose title or slug is missing.
// Such rows exist when a finalize crashed between the content write and the
// slug assignment; their public links are broken until repaired.
func (s *PostgresStore) GetRepairCandidate(ctx context.Context, taskRunID string) (*models.Report, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE task_run_id = $1 AND (title IS NULL OR slug IS NULL) AND content IS NOT NULL`, taskRunID)
	return scanReport(row)
}

// SetTitleSlug backfills the title and slug of a repaired row
func (s *PostgresStore) SetTitleSlug(ctx context.Context, taskRunID, title, slug string) error {
	_, err := s.db.Exec(ctx, `UPDATE reports SET title = $2, slug = $3 WHERE task_run_id = $1`, taskRunID, title, slug)
	if err != nil {
		return completeError(err)
	}
	return nil
}
