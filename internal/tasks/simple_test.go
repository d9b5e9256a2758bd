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

package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/runner"
	"github.com/tombee/agentrun/internal/llm"
)

func newEC(input map[string]any) *runner.ExecutionContext {
	return runner.NewExecutionContext(&backend.Run{ID: "run-1", UserID: "u", TaskType: SimpleTaskType, Input: input}, nil)
}

func simpleStep(t *testing.T, deps Deps) runner.Step {
	t.Helper()
	def, err := SimpleFactory(deps)(nil)
	require.NoError(t, err)
	steps := def.Steps()
	require.Len(t, steps, 1)
	return steps[0]
}

func TestSimple_StepShape(t *testing.T) {
	step := simpleStep(t, Deps{LLM: llm.NewMockClient()})
	assert.Equal(t, "llm_call", step.Name)
	assert.Equal(t, "llm", step.Kind)
	assert.Nil(t, step.ShouldSkip)
	assert.Nil(t, step.TransformInput)
}

func TestSimple_CallsReasoningService(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Respond = func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Content: "Hello!",
			Model:   "claude-test",
			Usage:   llm.TokenUsage{InputTokens: 12, OutputTokens: 3},
		}, nil
	}
	step := simpleStep(t, Deps{LLM: mock, Model: "claude-test"})

	input := map[string]any{"prompt": "Say hello"}
	result, err := step.Execute(context.Background(), input, newEC(input))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "Hello!"}, result.Output)
	assert.Equal(t, map[string]any{"model": "claude-test", "inputTokens": 12, "outputTokens": 3}, result.Metadata)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Say hello", reqs[0].Prompt)
	assert.Equal(t, "claude-test", reqs[0].Model)
	assert.Equal(t, 1024, reqs[0].MaxTokens)
}

func TestSimple_PromptRequired(t *testing.T) {
	mock := llm.NewMockClient()
	step := simpleStep(t, Deps{LLM: mock})

	for _, input := range []any{nil, map[string]any{}, map[string]any{"prompt": 42}, map[string]any{"prompt": ""}} {
		_, err := step.Execute(context.Background(), input, newEC(nil))
		assert.EqualError(t, err, "prompt is required")
	}
	assert.Empty(t, mock.Requests(), "no call is made without a prompt")
}

func TestSimple_ServiceError(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Respond = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("anthropic api error: overloaded")
	}
	step := simpleStep(t, Deps{LLM: mock})

	input := map[string]any{"prompt": "hi"}
	_, err := step.Execute(context.Background(), input, newEC(input))
	assert.EqualError(t, err, "anthropic api error: overloaded")
}

func TestSimple_NoClient(t *testing.T) {
	_, err := SimpleFactory(Deps{})(nil)
	assert.Error(t, err)
}
