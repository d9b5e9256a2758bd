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

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	internallog "github.com/tombee/agentrun/internal/log"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultMaxTokens      = 1024
)

// Config selects and configures a reasoning provider.
type Config struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	MaxTokens      int
	RequestTimeout time.Duration
}

func (c Config) modelOr(def string) string {
	if c.Model != "" {
		return c.Model
	}
	return def
}

func (c Config) maxTokensOr(def int) int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return def
}

// New creates the client named by cfg.Provider. An empty provider selects Anthropic.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case "", ProviderAnthropic:
		client, err = NewAnthropicClient(cfg)
	case ProviderOpenAI:
		client, err = NewOpenAIClient(cfg)
	case ProviderGemini:
		client, err = NewGeminiClient(ctx, cfg)
	case ProviderMock:
		client = NewMockClient()
	default:
		return nil, &agenterrors.ConfigError{
			Key:    "llm.provider",
			Reason: fmt.Sprintf("unknown provider %q (expected anthropic, openai, gemini or mock)", cfg.Provider),
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Info("reasoning client configured",
		slog.String(internallog.ProviderKey, client.Name()),
		slog.String("model", cfg.Model),
		slog.String("api_key", internallog.SanitizeAPIKey(cfg.APIKey)))
	return client, nil
}
