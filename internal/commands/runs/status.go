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

package runs

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/completion"
	"github.com/tombee/agentrun/internal/commands/shared"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	var (
		messages bool
		since    string
	)

	cmd := &cobra.Command{
		Use:               "status <run-id>",
		Short:             "Show the status of a run",
		Long:              `Show a run's status, progress, output and error. Use --messages to include its progress log.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.GetRunOptions{IncludeMessages: messages || since != ""}
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return shared.NewUsageError("invalid --since", err)
				}
				opts.MessagesSince = t
			}

			c, err := shared.NewClient(cmd.Context())
			if err != nil {
				return err
			}

			run, err := c.GetRun(cmd.Context(), args[0], opts)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), run)
			}
			renderRun(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&messages, "messages", "m", false, "Include progress messages")
	cmd.Flags().StringVar(&since, "since", "", "Only messages after this RFC3339 time or duration ago (e.g. 5m)")

	return cmd
}

// parseSince accepts an RFC3339 timestamp or a duration before now.
func parseSince(value string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither an RFC3339 time nor a duration", value)
	}
	if d < 0 {
		return time.Time{}, fmt.Errorf("duration %q must be positive", value)
	}
	return now.Add(-d), nil
}
