package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"market-research-tracker/internal/config"
	"market-research-tracker/internal/logging"
	"market-research-tracker/internal/markdown"
	"market-research-tracker/internal/models"
	"market-research-tracker/internal/parallel"
	"market-research-tracker/internal/services"
	"market-research-tracker/internal/store"
)

// Store is the persistence surface the handlers need
type Store interface {
	SaveRunningTask(ctx context.Context, reportID, taskRunID string, meta models.TaskMetadata, email string) error
	GetByTaskRunID(ctx context.Context, taskRunID string) (*models.Report, error)
	GetBySlug(ctx context.Context, slug string) (*models.Report, error)
	ListPublicReports(ctx context.Context, limit int) ([]models.ReportSummary, error)
	ListRunningTasks(ctx context.Context) ([]models.RunningTask, error)
	GetRepairCandidate(ctx context.Context, taskRunID string) (*models.Report, error)
	SetTitleSlug(ctx context.Context, taskRunID, title, slug string) error
}

// TaskStarter creates task runs on the upstream API
type TaskStarter interface {
	CreateTaskRun(ctx context.Context, input, processor string) (*parallel.TaskRun, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cfg       *config.Config
	store     Store
	tasks     TaskStarter
	tracker   *services.TaskService
	monitor   *services.Monitor
	sweeper   *services.Sweeper
	limiter   *services.RateLimiter
	validator *services.InputValidator
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	cfg *config.Config,
	st Store,
	tasks TaskStarter,
	tracker *services.TaskService,
	monitor *services.Monitor,
	sweeper *services.Sweeper,
	limiter *services.RateLimiter,
	validator *services.InputValidator,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		store:     st,
		tasks:     tasks,
		tracker:   tracker,
		monitor:   monitor,
		sweeper:   sweeper,
		limiter:   limiter,
		validator: validator,
	}
}

// GenerateReportHandler handles POST /api/reports
func (h *Handlers) GenerateReportHandler(c *gin.Context) {
	var req models.GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	allowed, count, err := h.limiter.Allow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check rate limit"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "Report generation limit reached. Please try again later.",
			"recent_report_count": count,
		})
		return
	}

	if h.validator != nil {
		verdict := h.validator.Validate(c.Request.Context(), req.Industry, req.Geography, req.Details)
		if !verdict.IsValid {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": services.ValidationRejectionMessage,
				"type":  "validation_error",
			})
			return
		}
	}

	meta := models.TaskMetadata{
		Industry:  req.Industry,
		Geography: req.Geography,
		CRESector: req.CRESector,
		Details:   req.Details,
	}
	input := services.BuildResearchInput(meta)
	processor := services.NormalizeProcessor(req.Processor, h.cfg.Parallel.Processor)

	run, err := h.tasks.CreateTaskRun(c.Request.Context(), input, processor)
	if err != nil {
		log := logging.WithComponent("api")
		log.Error().Err(err).Msg("failed to create task run")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to start report generation"})
		return
	}

	reportID := uuid.NewString()
	if err := h.store.SaveRunningTask(c.Request.Context(), reportID, run.RunID, meta, req.Email); err != nil {
		log := logging.WithTaskRunID(run.RunID)
		log.Error().Err(err).Msg("failed to persist running task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record task"})
		return
	}

	h.tracker.Register(run.RunID, meta, req.Email)
	h.limiter.Record(c.Request.Context())
	h.tracker.Watch(run.RunID)

	c.JSON(http.StatusAccepted, models.GenerateReportResponse{
		Success:   true,
		TaskRunID: run.RunID,
		StreamURL: fmt.Sprintf("/api/tasks/%s/events", run.RunID),
	})
}

// ListReportsHandler handles GET /api/reports
func (h *Handlers) ListReportsHandler(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	reports, err := h.store.ListPublicReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	if reports == nil {
		reports = []models.ReportSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// GetReportHandler handles GET /api/reports/:slug
func (h *Handlers) GetReportHandler(c *gin.Context) {
	report, err := h.store.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
		return
	}

	// Repair malformed tables at render time so stored content stays
	// byte-identical to what the task produced.
	report.Content = markdown.FixTables(report.Content)

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.JSON(http.StatusOK, report)
}

// DownloadReportHandler handles GET /api/reports/:slug/download
func (h *Handlers) DownloadReportHandler(c *gin.Context) {
	report, err := h.store.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
		return
	}

	content := fmt.Sprintf("# %s\n\n%s\n", report.Title, markdown.FixTables(report.Content))
	filename := fmt.Sprintf("%s.md", report.Slug)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(content))
}

// RepairReportHandler handles POST /api/repair/:taskRunId. It fixes
// completed rows left without a title or slug by an interrupted finalize.
func (h *Handlers) RepairReportHandler(c *gin.Context) {
	taskRunID := c.Param("taskRunId")

	report, err := h.store.GetRepairCandidate(c.Request.Context(), taskRunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no repairable report for this task"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
		return
	}

	title := report.Title
	if title == "" {
		title = services.BuildReportTitle(models.TaskMetadata{
			Industry:  report.Industry,
			Geography: report.Geography,
			CRESector: report.CRESector,
		})
	}
	slug, err := h.tracker.AllocateSlug(c.Request.Context(), title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to allocate slug"})
		return
	}
	if err := h.store.SetTitleSlug(c.Request.Context(), taskRunID, title, slug); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to repair report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "title": title, "slug": slug})
}

// ListTasksHandler handles GET /api/tasks. Listing doubles as the recovery
// trigger: each call kicks off a sweep in the background, so an active UI
// keeps orphaned tasks moving without a dedicated scheduler.
func (h *Handlers) ListTasksHandler(c *gin.Context) {
	go func() {
		if err := h.sweeper.Sweep(context.Background()); err != nil {
			log := logging.WithComponent("api")
			log.Warn().Err(err).Msg("background sweep failed")
		}
	}()

	tasks, err := h.store.ListRunningTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []models.RunningTask{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTaskStatusHandler handles GET /api/tasks/:taskId/status. This is the
// polling completion path: when the row is still running, a short result
// probe finalizes the task if the upstream already finished it.
func (h *Handlers) GetTaskStatusHandler(c *gin.Context) {
	taskRunID := c.Param("taskId")

	report, err := h.store.GetByTaskRunID(c.Request.Context(), taskRunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}

	resp := models.TaskStatusResponse{
		TaskRunID: taskRunID,
		Status:    string(report.Status),
	}
	switch report.Status {
	case models.StatusCompleted:
		resp.IsComplete = true
		resp.Slug = report.Slug
	case models.StatusFailed:
		resp.IsComplete = true
		resp.Error = report.ErrorMessage
	default:
		probeCtx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Parallel.ProbeTimeout)
		res, err := h.tracker.Finalize(probeCtx, taskRunID)
		cancel()
		if err == nil {
			resp.Status = string(models.StatusCompleted)
			resp.IsComplete = true
			resp.Slug = res.Slug
		}
	}

	c.JSON(http.StatusOK, resp)
}

// StreamTaskEventsHandler handles GET /api/tasks/:taskId/events. It relays
// the upstream SSE stream to the client, reconnecting upstream on transient
// failures; the client connection sees one uninterrupted stream.
func (h *Handlers) StreamTaskEventsHandler(c *gin.Context) {
	taskRunID := c.Param("taskId")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	err := h.monitor.MonitorTask(c.Request.Context(), taskRunID, func(ev parallel.TaskEvent) {
		c.SSEvent(ev.Category, ev)
		c.Writer.Flush()
	})
	if err != nil {
		c.SSEvent("error", gin.H{"message": err.Error()})
		c.Writer.Flush()
		return
	}

	// The monitor went terminal; report where the task landed.
	report, err := h.store.GetByTaskRunID(c.Request.Context(), taskRunID)
	if err == nil && report.Status == models.StatusCompleted {
		c.SSEvent("complete", gin.H{"slug": report.Slug, "title": report.Title})
	} else if err == nil && report.Status == models.StatusFailed {
		c.SSEvent("error", gin.H{"message": report.ErrorMessage})
	}
	c.Writer.Flush()
}

// MonitorTaskHandler handles POST /api/tasks/:taskId/monitor. It starts the
// detached stream-driven monitor for a task, typically after the client's own
// stream connection was lost.
func (h *Handlers) MonitorTaskHandler(c *gin.Context) {
	taskRunID := c.Param("taskId")

	if _, err := h.store.GetByTaskRunID(c.Request.Context(), taskRunID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}

	go func() {
		if err := h.monitor.MonitorTask(context.Background(), taskRunID, nil); err != nil {
			log := logging.WithTaskRunID(taskRunID)
			log.Warn().Err(err).Msg("detached monitor ended with error")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"success": true, "task_run_id": taskRunID})
}

// CompleteTaskHandler handles POST /api/tasks/:taskId/complete, the manual
// finalize trigger.
func (h *Handlers) CompleteTaskHandler(c *gin.Context) {
	taskRunID := c.Param("taskId")

	res, err := h.tracker.Finalize(c.Request.Context(), taskRunID)
	if err != nil {
		status := http.StatusBadGateway
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := models.CompleteTaskResponse{
		Success:  true,
		ReportID: res.ReportID,
		Slug:     res.Slug,
		Title:    res.Title,
		URL:      fmt.Sprintf("%s/report/%s", h.cfg.Server.BaseURL, res.Slug),
	}
	if res.AlreadyCompleted {
		resp.Message = "report was already completed"
	}
	c.JSON(http.StatusOK, resp)
}

// ValidateInputsHandler handles POST /api/validate
func (h *Handlers) ValidateInputsHandler(c *gin.Context) {
	var req models.ValidateInputsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.Industry) == "" {
		c.JSON(http.StatusOK, models.ValidateInputsResponse{
			IsValid: false,
			Message: "Industry is required",
			Type:    "required",
		})
		return
	}

	if h.validator == nil {
		c.JSON(http.StatusOK, models.ValidateInputsResponse{IsValid: true, Type: "success"})
		return
	}

	verdict := h.validator.Validate(c.Request.Context(), req.Industry, req.Geography, req.Details)
	if !verdict.IsValid {
		c.JSON(http.StatusOK, models.ValidateInputsResponse{
			IsValid: false,
			Message: services.ValidationRejectionMessage,
			Type:    "validation_error",
		})
		return
	}
	c.JSON(http.StatusOK, models.ValidateInputsResponse{IsValid: true, Type: "success"})
}

// StatusHandler handles GET /api/status
func (h *Handlers) StatusHandler(c *gin.Context) {
	used, remaining, err := h.limiter.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read rate limit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active_tasks": h.tracker.ActiveCount(),
		"rate_limit": models.RateLimitStatus{
			RecentReportCount: used,
			MaxReportsPerHour: h.cfg.Tracker.MaxReportsPerHour,
			RemainingReports:  remaining,
		},
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}
