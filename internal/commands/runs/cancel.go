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
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/completion"
	"github.com/tombee/agentrun/internal/commands/shared"
)

// confirm asks the user to confirm cancellation. Replaced in tests.
var confirm = func(runID string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Cancel run %s?", runID)).
				Description("The run stops after its current step finishes.").
				Affirmative("Yes, cancel").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// NewCancelCommand creates the cancel command
func NewCancelCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a run",
		Long: `Request cooperative cancellation of a pending or running run. A queued
run is cancelled immediately; a running one stops after its current step.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteActiveRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			if !yes {
				if shared.IsNonInteractive() {
					return shared.NewUsageError("refusing to cancel without confirmation; pass --yes", nil)
				}
				ok, err := confirm(runID)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			c, err := shared.NewClient(cmd.Context())
			if err != nil {
				return err
			}

			resp, err := c.CancelRun(cmd.Context(), runID)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("run %s not found", runID)
				}
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(resp.Message))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", shared.RenderLabel("Status:"), shared.RenderRunStatus(resp.Status))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
