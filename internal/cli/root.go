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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/auth"
	"github.com/tombee/agentrun/internal/commands/completion"
	"github.com/tombee/agentrun/internal/commands/config"
	"github.com/tombee/agentrun/internal/commands/diagnostics"
	"github.com/tombee/agentrun/internal/commands/runs"
	"github.com/tombee/agentrun/internal/commands/shared"
	"github.com/tombee/agentrun/internal/commands/version"
)

// Command groups shown in help output.
const (
	groupRuns   = "runs"
	groupAuth   = "auth"
	groupServer = "server"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for agentrun with every
// subcommand registered.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentrun",
		Short: "agentrun - launch and track agent runs",
		Long: `agentrun is the command-line client for an agentrund server. It
launches agent runs, follows their progress and cancels them.

Run 'agentrun token --user <id>' and 'agentrun login' to authenticate
against a development server, then 'agentrun launch simple --wait'.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	json, configPath, server, token := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(configPath, "config", "", "Path to config file (default: ~/.config/agentrun/config.yaml)")
	cmd.PersistentFlags().StringVar(server, "server", "", "Server URL (default: $"+shared.ServerEnvVar+", the config file, then http://localhost:3000)")
	cmd.PersistentFlags().StringVar(token, "token", "", "Bearer token (default: $AGENTRUN_TOKEN or the stored login)")

	cmd.AddGroup(
		&cobra.Group{ID: groupRuns, Title: "Runs:"},
		&cobra.Group{ID: groupAuth, Title: "Authentication:"},
		&cobra.Group{ID: groupServer, Title: "Server:"},
	)

	addToGroup(cmd, groupRuns,
		runs.NewLaunchCommand(),
		runs.NewStatusCommand(),
		runs.NewCancelCommand(),
		runs.NewListCommand(),
	)
	addToGroup(cmd, groupAuth,
		auth.NewLoginCommand(),
		auth.NewLogoutCommand(),
		auth.NewTokenCommand(),
	)
	addToGroup(cmd, groupServer,
		diagnostics.NewHealthCommand(),
		config.NewConfigCommand(),
	)
	cmd.AddCommand(
		version.NewVersionCommand(),
		completion.NewCommand(),
	)

	cmd.SetHelpCommand(NewHelpCommand(cmd))
	cmd.CompletionOptions.DisableDefaultCmd = true

	return cmd
}

func addToGroup(root *cobra.Command, group string, cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.GroupID = group
		root.AddCommand(c)
	}
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
