package parallel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateTaskRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Should post the task spec and return the run handle", func(t *testing.T) {
		var gotBody createTaskRunRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/tasks/runs", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TaskRun{RunID: "run-42", Status: "queued"})
		}))
		defer srv.Close()

		run, err := NewClient("test-key", srv.URL).CreateTaskRun(ctx, "research input", "ultra")
		require.NoError(t, err)
		assert.Equal(t, "run-42", run.RunID)
		assert.Equal(t, "research input", gotBody.Input)
		assert.Equal(t, "ultra", gotBody.Processor)
	})

	t.Run("Should surface the HTTP status in API errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad key"}})
		}))
		defer srv.Close()

		_, err := NewClient("bad", srv.URL).CreateTaskRun(ctx, "input", "ultra")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "bad key")
	})

	t.Run("Should reject a response without a run id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		_, err := NewClient("test-key", srv.URL).CreateTaskRun(ctx, "input", "ultra")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing run_id")
	})
}

func TestClient_Result(t *testing.T) {
	ctx := context.Background()

	t.Run("Should decode the terminal result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/tasks/runs/run-42/result", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TaskResult{
				RunID: "run-42",
				Output: TaskOutput{
					Content: "# Report",
					Basis:   []FieldBasis{{Field: "output", Reasoning: "sources agree"}},
				},
			})
		}))
		defer srv.Close()

		res, err := NewClient("test-key", srv.URL).Result(ctx, "run-42")
		require.NoError(t, err)
		assert.Equal(t, "# Report", res.Output.Content)
		require.Len(t, res.Output.Basis, 1)
	})

	t.Run("Should surface the HTTP status so callers can classify it", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"message": "no such run"})
		}))
		defer srv.Close()

		_, err := NewClient("test-key", srv.URL).Result(ctx, "run-missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404 Not Found")
	})
}
