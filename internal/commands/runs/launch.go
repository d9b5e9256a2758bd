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

// Package runs implements the launch, status, cancel and list commands.
package runs

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/completion"
	"github.com/tombee/agentrun/internal/commands/shared"
)

// NewLaunchCommand creates the launch command
func NewLaunchCommand() *cobra.Command {
	var (
		input     string
		inputFile string
		wait      bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "launch <agent-type>",
		Short: "Launch an agent run",
		Long: `Launch a run of the named agent type. The run is queued and executed
by a worker; use --wait to follow it until it finishes.`,
		Example: `  agentrun launch simple --input '{"prompt": "Summarise the release notes"}'
  agentrun launch triage --input-file ticket.json --wait`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteAgentTypes,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseInput(input, inputFile)
			if err != nil {
				return err
			}

			c, err := shared.NewClient(cmd.Context())
			if err != nil {
				return err
			}

			launched, err := c.Launch(cmd.Context(), args[0], payload)
			if err != nil {
				return fmt.Errorf("failed to launch run: %w", err)
			}

			out := cmd.OutOrStdout()
			if !wait {
				if shared.GetJSON() {
					return shared.EmitJSON(out, launched)
				}
				fmt.Fprintln(out, shared.RenderOK("Run "+launched.RunID+" queued"))
				fmt.Fprintf(out, "%s agentrun status %s\n", shared.RenderLabel("Follow with:"), launched.RunID)
				return nil
			}

			if !shared.GetJSON() {
				fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Run"), launched.RunID)
			}
			run, err := c.WaitForRun(cmd.Context(), launched.RunID, interval, func(r *client.Run) {
				if !shared.GetJSON() {
					for _, m := range r.Messages {
						fmt.Fprintln(out, formatMessage(m))
					}
				}
			})
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				if err := shared.EmitJSON(out, run); err != nil {
					return err
				}
			} else {
				// Messages were already streamed by the poll callback.
				run.Messages = nil
				renderRun(out, run)
			}
			return finalStatusError(run)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Run input as a JSON object")
	cmd.Flags().StringVarP(&inputFile, "input-file", "f", "", "Read run input from a JSON file (- for stdin)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the run to finish, printing progress messages")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval used with --wait")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")

	return cmd
}

// parseInput decodes the run input from a flag value or file. Input must be
// a JSON object; an empty input launches with {}.
func parseInput(raw, path string) (map[string]any, error) {
	var data []byte
	switch {
	case path == "-":
		b, err := readAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read input from stdin: %w", err)
		}
		data = b
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, shared.NewUsageError("failed to read input file", err)
		}
		data = b
	case raw != "":
		data = []byte(raw)
	default:
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, shared.NewUsageError("input must be a JSON object", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// finalStatusError turns a failed or cancelled run into a non-zero exit.
func finalStatusError(run *client.Run) error {
	switch run.Status {
	case client.StatusFailed:
		msg := "run failed"
		if run.Error != nil {
			msg += ": " + *run.Error
		}
		return shared.NewRunFailedError(msg)
	case client.StatusCancelled:
		return shared.NewRunFailedError("run was cancelled")
	}
	return nil
}
