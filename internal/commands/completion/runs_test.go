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

package completion

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/shared"
)

func resetCache() {
	runCacheMu.Lock()
	runCache = nil
	runCacheMu.Unlock()
}

func setupServer(t *testing.T) *atomic.Int32 {
	t.Helper()
	resetCache()
	t.Cleanup(resetCache)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/runs" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"runs": []map[string]any{
					{"runId": "a1", "agentType": "simple", "status": "running", "createdAt": "2025-06-01T10:00:00Z"},
					{"runId": "b2", "agentType": "triage", "status": "completed", "createdAt": "2025-06-01T09:00:00Z"},
					{"runId": "a3", "agentType": "simple", "status": "pending", "createdAt": "2025-06-01T08:00:00Z"},
				},
				"pagination": map[string]any{"total": 3, "limit": 50, "offset": 0, "hasMore": false},
			},
		})
	}))
	t.Cleanup(server.Close)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AGENTRUN_CONFIG", "")
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)
	_, _, serverPtr, tokenPtr := shared.RegisterFlagPointers()
	*serverPtr = server.URL
	*tokenPtr = "tok"
	return &hits
}

func TestCompleteRunIDs(t *testing.T) {
	hits := setupServer(t)

	completions, directive := CompleteRunIDs(nil, nil, "a")

	want := []string{"a1\tsimple (running)", "a3\tsimple (pending)"}
	if len(completions) != len(want) {
		t.Fatalf("expected %v, got %v", want, completions)
	}
	for i := range want {
		if completions[i] != want[i] {
			t.Errorf("completion %d = %q, want %q", i, completions[i], want[i])
		}
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected NoFileComp directive, got %d", directive)
	}

	// A second call within the TTL is served from cache.
	CompleteRunIDs(nil, nil, "")
	if hits.Load() != 1 {
		t.Errorf("expected 1 server request, got %d", hits.Load())
	}
}

func TestCompleteActiveRunIDs(t *testing.T) {
	setupServer(t)

	completions, _ := CompleteActiveRunIDs(nil, nil, "")
	if len(completions) != 2 {
		t.Fatalf("expected 2 active runs, got %v", completions)
	}
}

func TestCompleteAgentTypes(t *testing.T) {
	setupServer(t)

	completions, _ := CompleteAgentTypes(nil, nil, "")
	if len(completions) != 2 || completions[0] != "simple" || completions[1] != "triage" {
		t.Errorf("unexpected agent types %v", completions)
	}
}

func TestCompleteRunIDs_ServerDown(t *testing.T) {
	resetCache()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AGENTRUN_CONFIG", "")
	shared.ResetFlagsForTest()
	defer shared.ResetFlagsForTest()
	_, _, serverPtr, tokenPtr := shared.RegisterFlagPointers()
	*serverPtr = "http://127.0.0.1:1"
	*tokenPtr = "tok"

	completions, directive := CompleteRunIDs(nil, nil, "")
	if len(completions) != 0 {
		t.Errorf("expected no completions, got %v", completions)
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected NoFileComp directive, got %d", directive)
	}
}

func TestSafeCompletionWrapper_RecoversPanic(t *testing.T) {
	results, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	if len(results) != 0 || directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("unexpected result %v %d", results, directive)
	}
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "agentrun"}
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"completion", "bash"})
	if err := root.Execute(); err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected a completion script")
	}
}
