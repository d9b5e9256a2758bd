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
	"sync"
	"time"
)

// MockClient is an in-process Client for tests and local development.
// By default it echoes the prompt back.
type MockClient struct {
	// Respond overrides the default echo behaviour when set.
	Respond func(req CompletionRequest) (*CompletionResponse, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

// NewMockClient creates a mock client that echoes prompts.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Name returns "mock".
func (m *MockClient) Name() string { return ProviderMock }

// Complete records the request and returns the configured response.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Respond != nil {
		return m.Respond(req)
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	return &CompletionResponse{
		Content: "mock response: " + req.Prompt,
		Model:   model,
		Usage: TokenUsage{
			InputTokens:  len(req.Prompt),
			OutputTokens: len(req.Prompt) + len("mock response: "),
		},
		Created: time.Now(),
	}, nil
}

// Requests returns a copy of every request received so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
