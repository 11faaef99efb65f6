package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func passing(name string) HealthCheck { return NewCheck(name, func(context.Context) error { return nil }) }

func TestHealthHandler_HandleHealth(t *testing.T) {
	tests := []struct {
		name    string
		checks  []HealthCheck
		code    int
		status  string
		failing []string
	}{
		{"no checks", nil, http.StatusOK, StatusHealthy, nil},
		{
			name:   "all pass",
			checks: []HealthCheck{passing("memory"), passing("database")},
			code:   http.StatusOK,
			status: StatusHealthy,
		},
		{
			name: "optional failure degrades",
			checks: []HealthCheck{
				passing("memory"),
				NewOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
			},
			code:    http.StatusOK,
			status:  StatusDegraded,
			failing: []string{"redis"},
		},
		{
			name: "critical failure",
			checks: []HealthCheck{
				NewCheck("database", func(context.Context) error { return errors.New("ping timeout") }),
				NewOptionalCheck("llm", func(context.Context) error { return errors.New("circuit breaker open") }),
			},
			code:    http.StatusServiceUnavailable,
			status:  StatusUnhealthy,
			failing: []string{"database", "llm"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, tt.status, status.Status)
			assert.Equal(t, tt.failing, status.Failing())
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}
}

func TestHealthHandler_CheckResultDetails(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") }))

	status := h.Evaluate(context.Background())
	r := status.Checks["redis"]
	assert.Equal(t, "fail", r.Status)
	assert.False(t, r.Critical)
	assert.Equal(t, "connection refused", r.Message)
	assert.NotEmpty(t, r.Latency)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(passing("memory"))

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// 降级也不接收流量
	h.RegisterCheck(NewOptionalCheck("redis", func(context.Context) error { return errors.New("down") }))
	w = httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, StatusDegraded, decodeHealth(t, w).Status)
}

func TestHealthHandler_HandleHealthzSkipsChecks(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewCheck("database", func(context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	h.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(NewCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status := h.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestHealthHandler_ConcurrentEvaluate(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	for i := 0; i < 10; i++ {
		h.RegisterCheck(passing(string(rune('a' + i))))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}

func TestMemoryCheck(t *testing.T) {
	mem := memory.NewManager(memory.DefaultConfig())
	check := MemoryCheck(mem)
	assert.Equal(t, "memory", check.Name())
	assert.True(t, check.Critical())

	err := check.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNINITIALIZED")

	require.NoError(t, mem.Open(context.Background()))
	assert.NoError(t, check.Check(context.Background()))

	require.NoError(t, mem.Close())
	assert.Error(t, check.Check(context.Background()))
}
