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

package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/config"
	"github.com/tombee/agentrun/internal/secrets"
)

// ServerEnvVar overrides the server address when --server is not given.
const ServerEnvVar = "AGENTRUN_SERVER"

// TokenStore is the credential store used by login, logout and every API
// command. Tests replace it with a store over a mock keyring.
var TokenStore = secrets.NewTokenStore

// LoadConfig loads the configuration named by --config, AGENTRUN_CONFIG or
// the default config path. It returns nil when none of them exists.
func LoadConfig() (*config.Config, error) {
	path := config.ResolvePath(GetConfigPath())
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

// ResolveServer returns the server URL in priority order: --server,
// AGENTRUN_SERVER, the configured host and port, then the default.
func ResolveServer() (string, error) {
	if serverFlag != "" {
		return serverFlag, nil
	}
	if env := os.Getenv(ServerEnvVar); env != "" {
		return env, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return client.DefaultBaseURL, nil
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	scheme := "http"
	if cfg.Server.TLSCertFile != "" {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)), nil
}

// ResolveToken returns the bearer token for server: --token, then
// AGENTRUN_TOKEN, then the OS keyring. An empty string means none is set.
func ResolveToken(ctx context.Context, server string) (string, error) {
	if tokenFlag != "" {
		return tokenFlag, nil
	}
	token, err := TokenStore().Token(ctx, server)
	if errors.Is(err, secrets.ErrSecretNotFound) || errors.Is(err, secrets.ErrBackendUnavailable) {
		return "", nil
	}
	return token, err
}

// NewClient builds an API client for the resolved server and token.
func NewClient(ctx context.Context) (*client.Client, error) {
	server, err := ResolveServer()
	if err != nil {
		return nil, err
	}
	token, err := ResolveToken(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored token: %w", err)
	}

	opts := []client.Option{
		client.WithBaseURL(server),
		client.WithToken(token),
		client.WithUserAgent("agentrun-cli/" + version),
	}
	if cfg, err := LoadConfig(); err == nil && cfg != nil {
		opts = append(opts, client.WithAPIPrefix(cfg.Server.APIPrefix))
	}
	return client.New(opts...)
}
