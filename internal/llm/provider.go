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

// Package llm provides clients for the reasoning services that pipeline
// steps call. Every provider is exposed through the same Client interface so
// task definitions never depend on a vendor SDK.
package llm

import (
	"context"
	"time"
)

// Client is a reasoning service that completes a single prompt.
type Client interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// Complete sends a synchronous completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest contains the parameters for a completion request.
type CompletionRequest struct {
	// Model is the provider-specific model ID. Empty uses the client default.
	Model string

	// System is an optional system instruction.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens limits the response length. Zero uses the client default.
	MaxTokens int
}

// CompletionResponse contains the full response from a completion.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// Model is the model that handled the request.
	Model string

	// Usage contains token consumption information.
	Usage TokenUsage

	// Created is when the response was received.
	Created time.Time
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the sum of input and output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
