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

// Package diagnostics implements the health command.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/shared"
)

// HealthResult is the health command's output.
type HealthResult struct {
	Server    string            `json:"server"`
	Reachable bool              `json:"reachable"`
	Status    string            `json:"status,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Version   string            `json:"version,omitempty"`
	Latency   string            `json:"latency,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Healthy reports whether the server answered and every check passed.
func (r HealthResult) Healthy() bool {
	return r.Reachable && r.Status == "healthy"
}

// NewHealthCommand creates the health command
func NewHealthCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use: "health",
		Annotations: map[string]string{
			"group": "diagnostics",
		},
		Short: "Check the health of the agentrun server",
		Long: `Query the server's /health and /version endpoints and report
backend status, uptime and version.

Exit codes:
  0 - Server is healthy
  1 - Server is unreachable, unhealthy or draining`,
		Example: `  agentrun health
  agentrun health --json | jq -e '.status == "healthy"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := checkHealth(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				if err := shared.EmitJSON(out, result); err != nil {
					return err
				}
			} else {
				renderHealth(cmd, result)
			}

			if !result.Healthy() {
				return &shared.ExitError{Code: shared.ExitExecutionFailed, Message: "server is not healthy"}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for the health request")

	return cmd
}

func checkHealth(ctx context.Context) (HealthResult, error) {
	server, err := shared.ResolveServer()
	if err != nil {
		return HealthResult{}, err
	}
	result := HealthResult{Server: server}

	c, err := shared.NewClient(ctx)
	if err != nil {
		return result, err
	}

	start := time.Now()
	health, err := c.Health(ctx)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	result.Reachable = true
	result.Status = health.Status
	result.Uptime = health.Uptime
	result.Checks = health.Checks

	if v, err := c.Version(ctx); err == nil {
		result.Version = v.Version
	}
	return result, nil
}

func renderHealth(cmd *cobra.Command, r HealthResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Server:"), r.Server)

	if !r.Reachable {
		fmt.Fprintln(out, shared.RenderError("unreachable: "+r.Error))
		return
	}

	status := shared.RenderOK(r.Status)
	if !r.Healthy() {
		status = shared.RenderError(r.Status)
	}
	fmt.Fprintf(out, "%s %s (%s)\n", shared.RenderLabel("Status:"), status, r.Latency)
	if r.Version != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Version:"), r.Version)
	}
	if r.Uptime != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Uptime:"), r.Uptime)
	}

	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, r.Checks[name])
	}
}
