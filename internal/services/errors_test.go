package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecoverableError(t *testing.T) {
	t.Run("Should classify terminal failures as non-recoverable", func(t *testing.T) {
		for _, msg := range []string{
			"task run result: 401 Unauthorized: bad key",
			"403 Forbidden",
			"task run result: 404 Not Found: no such run",
			"invalid task identifier",
			"task failed during processing",
			"task cancelled by user",
			"quota exceeded for this account",
		} {
			assert.False(t, IsRecoverableError(msg), "message: %s", msg)
		}
	})

	t.Run("Should classify transient failures as recoverable", func(t *testing.T) {
		for _, msg := range []string{
			"connection reset by peer",
			"read timeout after 5m0s",
			"network is unreachable",
			"stream connection failed: EOF",
			"client disconnected",
			"502 internal server error",
			"503 Service Unavailable",
			"504 Gateway Timeout",
		} {
			assert.True(t, IsRecoverableError(msg), "message: %s", msg)
		}
	})

	t.Run("Should treat unknown messages as recoverable", func(t *testing.T) {
		assert.True(t, IsRecoverableError("something nobody has seen before"))
		assert.True(t, IsRecoverableError(""))
	})

	t.Run("Should let non-recoverable patterns win over recoverable ones", func(t *testing.T) {
		// Both "timeout" (recoverable) and "cancelled" (non-recoverable)
		// appear; the terminal classification wins.
		assert.False(t, IsRecoverableError("task cancelled after timeout"))
	})

	t.Run("Should match case-insensitively", func(t *testing.T) {
		assert.False(t, IsRecoverableError("UNAUTHORIZED"))
		assert.True(t, IsRecoverableError("Connection Refused"))
	})
}
