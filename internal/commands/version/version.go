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

// Package version implements the version command.
package version

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/shared"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version   string      `json:"version"`
	Commit    string      `json:"commit"`
	BuildDate string      `json:"build_date"`
	Server    *ServerInfo `json:"server,omitempty"`
}

// ServerInfo is the version reported by the agentrund the CLI talks to.
type ServerInfo struct {
	URL     string `json:"url"`
	Version string `json:"version,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	var server bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version, commit hash, and build date for agentrun.
With --server, also ask the configured agentrund for its version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, b := shared.GetVersion()
			info := VersionInfo{Version: v, Commit: c, BuildDate: b}
			if server {
				info.Server = serverVersion(cmd.Context())
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), info)
			}

			cmd.Printf("agentrun version %s\n", info.Version)
			cmd.Printf("  commit:     %s\n", info.Commit)
			cmd.Printf("  build date: %s\n", info.BuildDate)
			if s := info.Server; s != nil {
				if s.Error != "" {
					cmd.Printf("  server:     %s (%s)\n", s.URL, s.Error)
				} else {
					cmd.Printf("  server:     %s %s (%s)\n", s.URL, s.Version, s.Commit)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "Also show the server version")

	return cmd
}

func serverVersion(ctx context.Context) *ServerInfo {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url, err := shared.ResolveServer()
	if err != nil {
		return &ServerInfo{Error: err.Error()}
	}
	info := &ServerInfo{URL: url}

	c, err := shared.NewClient(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	v, err := c.Version(ctx)
	if err != nil {
		info.Error = fmt.Sprintf("unreachable: %v", err)
		return info
	}
	info.Version = v.Version
	info.Commit = v.Commit
	return info
}
