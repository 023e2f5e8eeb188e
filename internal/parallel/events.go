package parallel

import (
	"fmt"
	"strings"
)

// Normalized event types sent to stream consumers
const (
	EventTypeStatus   = "task.status"
	EventTypeProgress = "task.progress"
	EventTypeLog      = "task.log"
	EventTypeUnknown  = "task.unknown"
)

// TaskEvent is the normalized form of a remote task lifecycle event
type TaskEvent struct {
	Type             string   `json:"type"`
	Category         string   `json:"category"` // "status", "progress", "log", "unknown"
	RawType          string   `json:"raw_type,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	Message          string   `json:"message,omitempty"`
	Status           string   `json:"status,omitempty"`
	IsComplete       bool     `json:"is_complete,omitempty"`
	LogLevel         string   `json:"log_level,omitempty"`
	SourcesProcessed int      `json:"sources_processed,omitempty"`
	SourcesTotal     int      `json:"sources_total,omitempty"`
	RecentSources    []string `json:"recent_sources,omitempty"`
}

type rawRunInfo struct {
	Status string `json:"status"`
}

type rawSourceStats struct {
	NumSourcesRead       int      `json:"num_sources_read"`
	NumSourcesConsidered int      `json:"num_sources_considered"`
	SourcesReadSample    []string `json:"sources_read_sample"`
}

type rawEvent struct {
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp"`
	Message     string          `json:"message"`
	Run         *rawRunInfo     `json:"run"`
	SourceStats *rawSourceStats `json:"source_stats"`
}

// terminalStatuses are the task statuses that end the stream
var terminalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"cancelled": true,
}

// IsTerminalStatus reports whether a task status ends the run
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// normalizeEvent maps a parsed remote event onto the internal event
// vocabulary. sseType is the "event:" line value, carried as a fallback when
// the payload itself has no type field.
func normalizeEvent(sseType string, raw rawEvent) TaskEvent {
	rawType := raw.Type
	if rawType == "" {
		rawType = sseType
	}

	ev := TaskEvent{
		RawType:   rawType,
		Timestamp: raw.Timestamp,
	}

	switch {
	case rawType == "task_run.state":
		status := "unknown"
		if raw.Run != nil && raw.Run.Status != "" {
			status = raw.Run.Status
		}
		ev.Type = EventTypeStatus
		ev.Category = "status"
		ev.Status = status
		ev.IsComplete = terminalStatuses[status]
		ev.Message = fmt.Sprintf("Task status: %s", status)

	case rawType == "task_run.progress_stats":
		ev.Type = EventTypeProgress
		ev.Category = "progress"
		if raw.SourceStats != nil {
			ev.SourcesProcessed = raw.SourceStats.NumSourcesRead
			ev.SourcesTotal = raw.SourceStats.NumSourcesConsidered
			ev.RecentSources = lastN(raw.SourceStats.SourcesReadSample, 5)
		}
		ev.Message = fmt.Sprintf("Processed %d of %d sources", ev.SourcesProcessed, ev.SourcesTotal)

	case strings.Contains(rawType, "progress_msg"):
		parts := strings.Split(rawType, ".")
		ev.Type = EventTypeLog
		ev.Category = "log"
		ev.LogLevel = parts[len(parts)-1]
		ev.Message = raw.Message
		// Some progress_msg events carry source stats too
		if raw.SourceStats != nil {
			ev.SourcesProcessed = raw.SourceStats.NumSourcesRead
			ev.SourcesTotal = raw.SourceStats.NumSourcesConsidered
			ev.RecentSources = lastN(raw.SourceStats.SourcesReadSample, 5)
		}

	default:
		ev.Type = EventTypeUnknown
		ev.Category = "unknown"
		ev.Message = raw.Message
	}

	return ev
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
