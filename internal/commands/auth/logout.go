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

package auth

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/shared"
	"github.com/tombee/agentrun/internal/secrets"
)

// NewLogoutCommand creates the logout command
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API token for the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := shared.ResolveServer()
			if err != nil {
				return err
			}

			removed := true
			if err := shared.TokenStore().Forget(cmd.Context(), server); err != nil {
				if !errors.Is(err, secrets.ErrSecretNotFound) {
					return fmt.Errorf("failed to remove token: %w", err)
				}
				removed = false
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{"server": server, "removed": removed})
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("No token stored for "+server))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Logged out of "+server))
			return nil
		},
	}
}
