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

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithToken("tok"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func writeData(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"localhost:3000", "ftp://host", "http://[::1"} {
		if _, err := New(WithBaseURL(raw)); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestClientHealth(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "unhealthy",
			"checks": map[string]string{"backend": "connection refused"},
		})
	}))

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "unhealthy" || health.Checks["backend"] == "" {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestClientVersion(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "1.2.3", "commit": "abc123"})
	}))

	version, err := client.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version.Version != "1.2.3" {
		t.Errorf("Expected version '1.2.3', got %s", version.Version)
	}
}

func TestClientLaunch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/agents/simple/run" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}

		var body struct {
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Input["prompt"] != "hi" {
			t.Errorf("input = %v", body.Input)
		}

		writeData(w, http.StatusAccepted, map[string]any{
			"runId":   "run-1",
			"status":  "pending",
			"pollUrl": "/api/v1/agents/runs/run-1",
		})
	}))

	resp, err := client.Launch(context.Background(), "simple", map[string]any{"prompt": "hi"})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if resp.RunID != "run-1" || resp.Status != StatusPending {
		t.Errorf("unexpected launch response: %+v", resp)
	}
}

func TestClientGetRun_Query(t *testing.T) {
	since := time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("includeMessages") != "true" {
			t.Errorf("includeMessages = %q", q.Get("includeMessages"))
		}
		if q.Get("messagesSince") != since.Format(time.RFC3339Nano) {
			t.Errorf("messagesSince = %q", q.Get("messagesSince"))
		}
		writeData(w, http.StatusOK, map[string]any{"runId": "run-1", "status": "running", "currentStep": 1})
	}))

	run, err := client.GetRun(context.Background(), "run-1", GetRunOptions{IncludeMessages: true, MessagesSince: since})
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != StatusRunning || run.CurrentStep != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{
			name:    "not found envelope",
			status:  http.StatusNotFound,
			body:    `{"status":"error","message":"Agent run not found"}`,
			check:   IsNotFound,
			message: "Agent run not found",
		},
		{
			name:    "conflict",
			status:  http.StatusConflict,
			body:    `{"status":"error","message":"Cannot cancel run with status 'completed'."}`,
			check:   IsConflict,
			message: "Cannot cancel run with status 'completed'.",
		},
		{
			name:    "plain body",
			status:  http.StatusUnauthorized,
			body:    "nope",
			check:   IsUnauthorized,
			message: "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			_, err := client.CancelRun(context.Background(), "run-1")
			if !tt.check(err) {
				t.Fatalf("unexpected error classification: %v", err)
			}
			apiErr := err.(*APIError)
			if apiErr.Message != tt.message {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.message)
			}
		})
	}
}

func TestClientErrors_RetryAfter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":"error","message":"Too many requests, please try again later."}`))
	}))

	_, err := client.ListRuns(context.Background(), ListRunsRequest{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v", apiErr.RetryAfter)
	}
}

func TestClientListRuns_Query(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed" || q.Get("agentType") != "simple" || q.Get("limit") != "5" || q.Get("offset") != "10" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		writeData(w, http.StatusOK, map[string]any{
			"runs":       []map[string]any{{"runId": "run-1", "status": "failed"}},
			"pagination": map[string]any{"total": 11, "limit": 5, "offset": 10, "hasMore": false},
		})
	}))

	page, err := client.ListRuns(context.Background(), ListRunsRequest{Status: "failed", AgentType: "simple", Limit: 5, Offset: 10})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(page.Runs) != 1 || page.Pagination.Total != 11 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestClientWaitForRun(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		if n > 1 && r.URL.Query().Get("messagesSince") == "" {
			t.Errorf("poll %d did not resume after the last message", n)
		}

		status := StatusRunning
		if n == 3 {
			status = StatusCompleted
		}
		writeData(w, http.StatusOK, map[string]any{
			"runId":  "run-1",
			"status": status,
			"messages": []map[string]any{
				{"messageId": "m", "level": "info", "message": "step", "createdAt": time.Now().UTC()},
			},
		})
	}))

	var updates int
	run, err := client.WaitForRun(context.Background(), "run-1", time.Millisecond, func(*Run) { updates++ })
	if err != nil {
		t.Fatalf("WaitForRun failed: %v", err)
	}
	if run.Status != StatusCompleted || updates != 3 {
		t.Errorf("status=%s updates=%d", run.Status, updates)
	}
}

func TestClientWaitForRun_ContextCancelled(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{"runId": "run-1", "status": StatusRunning})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.WaitForRun(ctx, "run-1", 5*time.Millisecond, nil); err == nil {
		t.Fatal("expected context error")
	}
}
