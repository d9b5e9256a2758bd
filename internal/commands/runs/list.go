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
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/completion"
	"github.com/tombee/agentrun/internal/commands/shared"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	var req client.ListRunsRequest

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your runs",
		Long:    `List your runs, newest first.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Status != "" && !validStatus(req.Status) {
				return shared.NewUsageError(fmt.Sprintf("invalid --status %q", req.Status), nil)
			}

			c, err := shared.NewClient(cmd.Context())
			if err != nil {
				return err
			}

			page, err := c.ListRuns(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, page)
			}

			if len(page.Runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tAGENT\tSTATUS\tPROGRESS\tCREATED")
			for _, r := range page.Runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.RunID,
					r.AgentType,
					shared.StatusLabel(r.Status),
					formatProgress(r.CurrentStep, r.TotalSteps),
					formatTime(r.CreatedAt),
				)
			}
			w.Flush()

			p := message.NewPrinter(language.English)
			p.Fprintf(out, "\nShowing %d-%d of %d runs", page.Pagination.Offset+1, page.Pagination.Offset+len(page.Runs), page.Pagination.Total)
			if page.Pagination.HasMore {
				p.Fprintf(out, " (next page: --offset %d)", page.Pagination.Offset+len(page.Runs))
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Status, "status", "s", "", "Filter by status (pending, running, completed, failed, cancelled, cancel_requested)")
	cmd.Flags().StringVarP(&req.AgentType, "type", "t", "", "Filter by agent type")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 20, "Maximum runs to show (max 100)")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "Number of runs to skip")
	_ = cmd.RegisterFlagCompletionFunc("status", completion.CompleteStatuses)
	_ = cmd.RegisterFlagCompletionFunc("type", completion.CompleteAgentTypes)

	return cmd
}

func validStatus(s string) bool {
	switch s {
	case client.StatusPending, client.StatusRunning, client.StatusCompleted,
		client.StatusFailed, client.StatusCancelled, client.StatusCancelRequested:
		return true
	}
	return false
}
