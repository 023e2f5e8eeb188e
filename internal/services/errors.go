package services

import "strings"

// nonRecoverablePatterns mark terminal failures; retrying cannot help.
var nonRecoverablePatterns = []string{
	"unauthorized", "forbidden", "not found", "invalid task",
	"task failed", "cancelled", "quota exceeded",
}

// recoverablePatterns mark transient failures worth retrying.
var recoverablePatterns = []string{
	"connection", "timeout", "network", "stream", "disconnected",
	"server error", "service unavailable", "gateway timeout",
}

// IsRecoverableError classifies an error message as recoverable (transient,
// eligible for retry) or non-recoverable. Unknown messages classify
// recoverable: losing a task is worse than retrying one.
func IsRecoverableError(message string) bool {
	lower := strings.ToLower(message)

	for _, pattern := range nonRecoverablePatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return true
}
