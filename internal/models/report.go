package models

import (
	"encoding/json"
	"time"
)

// ReportStatus represents the lifecycle status of a report row
type ReportStatus string

const (
	StatusRunning   ReportStatus = "running"
	StatusCompleted ReportStatus = "completed"
	StatusFailed    ReportStatus = "failed"
)

// Report is the single persisted entity, unifying an in-flight task and a
// finished report. While the task is running only the input fields are set;
// Title, Slug, Content, Basis and CompletedAt are assigned at finalize time.
type Report struct {
	ID           string          `json:"id"`
	TaskRunID    string          `json:"taskRunId"`
	Title        string          `json:"title,omitempty"`
	Slug         string          `json:"slug,omitempty"`
	Industry     string          `json:"industry"`
	Geography    string          `json:"geography,omitempty"`
	CRESector    string          `json:"creSector,omitempty"`
	Details      string          `json:"details,omitempty"`
	Content      string          `json:"content,omitempty"`
	Basis        json.RawMessage `json:"basis,omitempty"`
	Status       ReportStatus    `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Email        string          `json:"-"`
	IsPublic     bool            `json:"isPublic"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// ReportSummary is the library listing projection of a completed report
type ReportSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Industry  string    `json:"industry"`
	Geography string    `json:"geography,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RunningTask is the running-tasks view projection
type RunningTask struct {
	TaskRunID string    `json:"taskRunId"`
	Industry  string    `json:"industry"`
	Geography string    `json:"geography,omitempty"`
	Details   string    `json:"details,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskMetadata captures the immutable inputs of a task, carried by the
// process-local registry and used to derive the report title at finalize time.
type TaskMetadata struct {
	Industry  string
	Geography string
	CRESector string
	Details   string
}
