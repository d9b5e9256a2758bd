// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentrun/internal/controller/auth"
	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/backend/memory"
	"github.com/tombee/agentrun/internal/controller/queue"
	"github.com/tombee/agentrun/internal/controller/runner"
	internallog "github.com/tombee/agentrun/internal/log"
)

var testSecret = []byte("router-test-secret-0123456789abcdef")

type testServer struct {
	handler http.Handler
	service *runner.Service
	store   *memory.Backend
	queue   *queue.MemoryQueue
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()

	store := memory.New()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() {
		store.Close()
		q.Close()
	})

	cfg := Config{
		JWT:            auth.JWTConfig{Secret: testSecret},
		RateLimit:      auth.RateLimitConfig{MaxRequests: 100, Window: time.Minute, Enabled: true},
		MetricsEnabled: true,
		Version:        "test",
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc := runner.NewService(store, q, runner.WithLogger(internallog.Discard()))
	router := NewRouter(cfg, svc, internallog.Discard())
	return &testServer{handler: router.Handler(), service: svc, store: store, queue: q}
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (s *testServer) do(t *testing.T, method, path, user, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		token, err := auth.GenerateJWT(auth.Claims{UserID: user, Email: user + "@example.com"}, auth.JWTConfig{Secret: testSecret}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) launch(t *testing.T, user, agentType string) LaunchResponse {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/agents/"+agentType+"/run", user, `{"input":{"prompt":"hello"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var data LaunchResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Checks["backend"])
}

func TestVersionAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "No token provided", env.Message)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route /nope not found", env.Message)
}

func TestLaunch(t *testing.T) {
	s := newTestServer(t)

	data := s.launch(t, "user-1", "simple")

	_, err := uuid.Parse(data.RunID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusPending, data.Status)
	assert.Equal(t, "/api/v1/agents/runs/"+data.RunID, data.PollURL)
	assert.Equal(t, 1, s.queue.Len())

	run, err := s.store.GetRun(context.Background(), data.RunID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", run.UserID)
	assert.Equal(t, "hello", run.Input["prompt"])
	assert.NotEmpty(t, run.DispatchJobID)
}

func TestLaunch_UnknownTypeIsAccepted(t *testing.T) {
	s := newTestServer(t)

	data := s.launch(t, "user-1", "does-not-exist")
	assert.Equal(t, backend.StatusPending, data.Status)
}

func TestLaunch_EmptyBody(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/agents/simple/run", "user-1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestLaunch_BadBodies(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{"input":`, http.StatusBadRequest},
		{"input not an object", `{"input":"text"}`, http.StatusBadRequest},
		{"too large", `{"input":{"prompt":"` + strings.Repeat("x", 200) + `"}}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(t, http.MethodPost, "/api/v1/agents/simple/run", "user-1", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "error", env.Status)
		})
	}
	assert.Equal(t, 0, s.queue.Len())
}

func TestLaunch_Draining(t *testing.T) {
	s := newTestServer(t)
	s.service.StartDraining()

	rec, env := s.do(t, http.MethodPost, "/api/v1/agents/simple/run", "user-1", `{"input":{}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.Equal(t, "error", env.Status)
}

func TestGetRun(t *testing.T) {
	s := newTestServer(t)
	launched := s.launch(t, "user-1", "simple")
	ctx := context.Background()

	first := &backend.Message{RunID: launched.RunID, Level: backend.LevelInfo, Message: "Agent run started"}
	require.NoError(t, s.store.AppendMessage(ctx, first))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.store.AppendMessage(ctx, &backend.Message{
		RunID: launched.RunID, Level: backend.LevelInfo, Message: "Starting step: llm_call", StepNumber: backend.Ptr(1),
	}))

	path := "/api/v1/agents/runs/" + launched.RunID

	t.Run("without messages", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, path, "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var view RunView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.Equal(t, launched.RunID, view.RunID)
		assert.Equal(t, "simple", view.AgentType)
		assert.Nil(t, view.TotalSteps)
		assert.Nil(t, view.Error)
		assert.Empty(t, view.Messages)
	})

	t.Run("with messages", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, path+"?includeMessages=true", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var view RunView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		require.Len(t, view.Messages, 2)
		assert.Equal(t, "Agent run started", view.Messages[0].Message)
		assert.Equal(t, 1, *view.Messages[1].StepNumber)
	})

	t.Run("messages since", func(t *testing.T) {
		since := first.CreatedAt.Format(time.RFC3339Nano)
		rec, env := s.do(t, http.MethodGet, path+"?includeMessages=true&messagesSince="+since, "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var view RunView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		require.Len(t, view.Messages, 1)
		assert.Equal(t, "Starting step: llm_call", view.Messages[0].Message)
	})

	t.Run("bad since", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodGet, path+"?includeMessages=true&messagesSince=yesterday", "user-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("other user", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, path, "user-2", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Agent run not found", env.Message)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs/not-a-uuid", "user-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid run ID", env.Message)
	})
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)
	launched := s.launch(t, "user-1", "simple")
	path := "/api/v1/agents/runs/" + launched.RunID + "/cancel"

	rec, _ := s.do(t, http.MethodPost, path, "user-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := s.do(t, http.MethodPost, path, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data CancelResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, launched.RunID, data.RunID)
	// The job was never claimed, so the run is finalized immediately.
	assert.Equal(t, backend.StatusCancelled, data.Status)
	assert.Equal(t, CancelledMessage, data.Message)
	assert.Equal(t, 0, s.queue.Len())

	rec, env = s.do(t, http.MethodPost, path, "user-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, env.Message, "Cannot cancel run with status 'cancelled'")
}

func TestCancelRun_ClaimedJobStaysRequested(t *testing.T) {
	s := newTestServer(t)
	launched := s.launch(t, "user-1", "simple")

	job, err := s.queue.Claim(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	rec, env := s.do(t, http.MethodPost, "/api/v1/agents/runs/"+launched.RunID+"/cancel", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data CancelResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, backend.StatusCancelRequested, data.Status)
	assert.Equal(t, CancelMessage, data.Message)
}

func TestListRuns(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		s.launch(t, "user-1", "simple")
	}
	s.launch(t, "user-1", "summarize")
	s.launch(t, "user-2", "simple")

	t.Run("paged", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs?limit=2", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var data ListResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Len(t, data.Runs, 2)
		assert.Equal(t, Pagination{Total: 4, Limit: 2, Offset: 0, HasMore: true}, data.Pagination)
	})

	t.Run("filtered by type", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs?agentType=summarize", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var data ListResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		require.Len(t, data.Runs, 1)
		assert.Equal(t, "summarize", data.Runs[0].AgentType)
		assert.Equal(t, runner.DefaultListLimit, data.Pagination.Limit)
		assert.False(t, data.Pagination.HasMore)
	})

	t.Run("filtered by status", func(t *testing.T) {
		rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs?status=completed", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var data ListResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Empty(t, data.Runs)
		assert.Equal(t, 0, data.Pagination.Total)
	})

	for _, query := range []string{"status=bogus", "limit=ten", "offset=x"} {
		t.Run("rejects "+query, func(t *testing.T) {
			rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs?"+query, "user-1", "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", env.Status)
		})
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.RateLimit = auth.RateLimitConfig{MaxRequests: 2, Window: time.Minute, Enabled: true}
	})

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodGet, "/api/v1/agents/runs", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := s.do(t, http.MethodGet, "/api/v1/agents/runs", "user-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "error", env.Status)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/agents/runs", "user-2", "")
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per user")

	health := httptest.NewRecorder()
	s.handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is not rate limited")
}

func TestCustomPrefix(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.APIPrefix = "/api/" })

	rec, env := s.do(t, http.MethodPost, "/api/agents/simple/run", "user-1", `{"input":{}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var data LaunchResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "/api/agents/runs/"+data.RunID, data.PollURL)
}
