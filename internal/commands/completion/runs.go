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
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/shared"
)

const (
	runCacheTTL   = 2 * time.Second
	serverTimeout = 500 * time.Millisecond

	// completionPageSize is the number of recent runs offered.
	completionPageSize = 50
)

type runCacheEntry struct {
	runs      []client.RunSummary
	expiresAt time.Time
}

var (
	runCache   *runCacheEntry
	runCacheMu sync.RWMutex
)

// SafeCompletionWrapper runs fn and turns a panic or nil result into an
// empty completion.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// CompleteRunIDs completes the caller's recent run IDs, described by agent
// type and status.
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return runCompletions(ctxOf(cmd), toComplete, func(client.RunSummary) bool { return true }), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteActiveRunIDs completes only runs that can still be cancelled.
func CompleteActiveRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		active := func(r client.RunSummary) bool {
			return r.Status == client.StatusPending || r.Status == client.StatusRunning
		}
		return runCompletions(ctxOf(cmd), toComplete, active), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteAgentTypes completes agent types seen in recent runs.
func CompleteAgentTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		runs, err := recentRuns(ctxOf(cmd))
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		seen := make(map[string]bool)
		var types []string
		for _, r := range runs {
			if !seen[r.AgentType] && strings.HasPrefix(r.AgentType, toComplete) {
				seen[r.AgentType] = true
				types = append(types, r.AgentType)
			}
		}
		sort.Strings(types)
		return types, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteStatuses completes the --status flag.
func CompleteStatuses(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{
		client.StatusPending + "\tqueued, not yet claimed",
		client.StatusRunning + "\texecuting on a worker",
		client.StatusCompleted + "\tfinished successfully",
		client.StatusFailed + "\tfinished with an error",
		client.StatusCancelled + "\tstopped by request",
		client.StatusCancelRequested + "\twaiting for the current step to end",
	}, cobra.ShellCompDirectiveNoFileComp
}

func runCompletions(ctx context.Context, prefix string, keep func(client.RunSummary) bool) []string {
	runs, err := recentRuns(ctx)
	if err != nil {
		return nil
	}
	completions := make([]string, 0, len(runs))
	for _, r := range runs {
		if keep(r) && strings.HasPrefix(r.RunID, prefix) {
			completions = append(completions, r.RunID+"\t"+r.AgentType+" ("+r.Status+")")
		}
	}
	return completions
}

// recentRuns returns the caller's newest runs, cached briefly so repeated
// tab presses do not hit the server.
func recentRuns(ctx context.Context) ([]client.RunSummary, error) {
	runCacheMu.RLock()
	if runCache != nil && time.Now().Before(runCache.expiresAt) {
		cached := runCache.runs
		runCacheMu.RUnlock()
		return cached, nil
	}
	runCacheMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, serverTimeout)
	defer cancel()

	c, err := shared.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.ListRuns(ctx, client.ListRunsRequest{Limit: completionPageSize})
	if err != nil {
		return nil, err
	}

	runCacheMu.Lock()
	runCache = &runCacheEntry{runs: page.Runs, expiresAt: time.Now().Add(runCacheTTL)}
	runCacheMu.Unlock()
	return page.Runs, nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
