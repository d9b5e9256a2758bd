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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/shared"
	"github.com/tombee/agentrun/internal/controller/auth"
)

// SecretEnvVar supplies the signing secret when neither --secret nor the
// config file does.
const SecretEnvVar = "JWT_SECRET"

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	var (
		user   string
		email  string
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with the server secret",
		Long: `Mint an HS256 bearer token for a user, signed with the same secret
agentrund validates against. Intended for development and operators;
production deployments usually obtain tokens from their identity provider.`,
		Example: `  agentrun token --user alice --ttl 1h
  agentrun token --user alice | agentrun login --with-token`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return shared.NewUsageError("--user is required", nil)
			}

			jwtCfg := auth.JWTConfig{Secret: []byte(secret)}
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if cfg != nil {
				if len(jwtCfg.Secret) == 0 {
					jwtCfg.Secret = []byte(cfg.Auth.JWTSecret)
				}
				jwtCfg.Issuer = cfg.Auth.Issuer
				jwtCfg.Audience = cfg.Auth.Audience
				if !cmd.Flags().Changed("ttl") && cfg.Auth.TokenTTL > 0 {
					ttl = cfg.Auth.TokenTTL
				}
			}
			if len(jwtCfg.Secret) == 0 {
				jwtCfg.Secret = []byte(os.Getenv(SecretEnvVar))
			}
			if len(jwtCfg.Secret) == 0 {
				return shared.NewUsageError("no signing secret; pass --secret, set auth.jwt_secret or "+SecretEnvVar, nil)
			}

			signed, err := auth.GenerateJWT(auth.Claims{UserID: user, Email: email}, jwtCfg, ttl)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
					"token":     signed,
					"userId":    user,
					"expiresAt": time.Now().Add(ttl).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id placed in the userId claim")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret (defaults to auth.jwt_secret)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
