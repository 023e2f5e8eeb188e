package models

// GenerateReportRequest represents the request to generate a market research report
type GenerateReportRequest struct {
	Industry  string `json:"industry" binding:"required"`
	Geography string `json:"geography"`
	CRESector string `json:"cre_sector"`
	Details   string `json:"details"`
	Email     string `json:"email" binding:"omitempty,email"`
	Processor string `json:"processor"` // Optional, defaults to "ultra"
}

// GenerateReportResponse represents the response when a task is admitted
type GenerateReportResponse struct {
	Success   bool   `json:"success"`
	TaskRunID string `json:"task_run_id"`
	StreamURL string `json:"stream_url"`
}

// TaskStatusResponse represents the response when polling task status
type TaskStatusResponse struct {
	TaskRunID  string `json:"task_run_id"`
	Status     string `json:"status"` // "running", "completed", "failed"
	IsComplete bool   `json:"is_complete"`
	Slug       string `json:"slug,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CompleteTaskResponse represents the response after a finalize call
type CompleteTaskResponse struct {
	Success  bool   `json:"success"`
	ReportID string `json:"report_id,omitempty"`
	Slug     string `json:"slug,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ValidateInputsRequest represents the real-time input validation request
type ValidateInputsRequest struct {
	Industry  string `json:"industry"`
	Geography string `json:"geography"`
	Details   string `json:"details"`
}

// ValidateInputsResponse represents the input validation verdict
type ValidateInputsResponse struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message"`
	Type    string `json:"type"` // "required", "success", "validation_error", "error"
}

// RateLimitStatus represents the global rate limit status
type RateLimitStatus struct {
	RecentReportCount int `json:"recent_report_count"`
	MaxReportsPerHour int `json:"max_reports_per_hour"`
	RemainingReports  int `json:"remaining_reports"`
}
