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

// Package auth implements the login, logout and token commands.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/shared"
)

// promptToken asks for a token without echoing it. Replaced in tests.
var promptToken = func() (string, error) {
	var token string
	err := huh.NewInput().
		Title("API token").
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("token is required")
			}
			return nil
		}).
		Value(&token).
		Run()
	return token, err
}

// NewLoginCommand creates the login command
func NewLoginCommand() *cobra.Command {
	var (
		token      string
		withStdin  bool
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API token for the server",
		Long: `Store a bearer token for the resolved server in the OS keychain.
The token is checked against the server before it is saved.`,
		Example: `  agentrun login --token "$TOKEN"
  agentrun token --user alice | agentrun login --with-token`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			switch {
			case token != "":
			case withStdin:
				t, err := readToken(cmd)
				if err != nil {
					return err
				}
				token = t
			case shared.IsNonInteractive():
				return shared.NewUsageError("no token given; pass --token or --with-token", nil)
			default:
				t, err := promptToken()
				if err != nil {
					return err
				}
				token = strings.TrimSpace(t)
			}

			server, err := shared.ResolveServer()
			if err != nil {
				return err
			}

			if !skipVerify {
				if err := verifyToken(ctx, server, token); err != nil {
					return err
				}
			}

			if err := shared.TokenStore().Save(ctx, server, token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{"server": server, "stored": true})
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Logged in to "+server))
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API token to store")
	cmd.Flags().BoolVar(&withStdin, "with-token", false, "Read the token from standard input")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Store the token without checking it against the server")
	cmd.MarkFlagsMutuallyExclusive("token", "with-token")

	return cmd
}

func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if in == os.Stdin && !shared.IsNonInteractive() {
		return "", shared.NewUsageError("--with-token expects the token on standard input", nil)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	token := strings.TrimSpace(line)
	if token == "" {
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return "", shared.NewUsageError("empty token on standard input", nil)
	}
	return token, nil
}

// verifyToken lists a single run with the token; only a 401 rejects it.
func verifyToken(ctx context.Context, server, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(client.WithBaseURL(server), client.WithToken(token), apiPrefixOption())
	if err != nil {
		return err
	}
	if _, err := c.ListRuns(ctx, client.ListRunsRequest{Limit: 1}); err != nil {
		if client.IsUnauthorized(err) {
			return &shared.ExitError{Code: shared.ExitUnauthorized, Message: "token rejected by " + server, Cause: err}
		}
		return fmt.Errorf("failed to verify token: %w", err)
	}
	return nil
}

func apiPrefixOption() client.Option {
	if cfg, err := shared.LoadConfig(); err == nil && cfg != nil {
		return client.WithAPIPrefix(cfg.Server.APIPrefix)
	}
	return client.WithAPIPrefix(client.DefaultAPIPrefix)
}
