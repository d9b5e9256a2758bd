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

	"github.com/tombee/agentrun/internal/controller/runner"
	"github.com/tombee/agentrun/internal/llm"
)

// SimpleTaskType is the name of the built-in single-call task.
const SimpleTaskType = "simple"

// SimpleFactory returns the factory for the simple task: one llm step that
// sends input.prompt to the reasoning service and outputs {text}.
func SimpleFactory(deps Deps) runner.Factory {
	return func(*runner.ExecutionContext) (runner.TaskDefinition, error) {
		if deps.LLM == nil {
			return nil, errors.New("no reasoning client configured")
		}
		return runner.NewPipeline(runner.Step{
			Name: "llm_call",
			Kind: "llm",
			Execute: func(ctx context.Context, input any, ec *runner.ExecutionContext) (runner.StepResult, error) {
				return callLLM(ctx, deps, ec, llm.CompletionRequest{
					Prompt: promptFrom(input),
				})
			},
		}), nil
	}
}

func promptFrom(input any) string {
	m, ok := input.(map[string]any)
	if !ok {
		return ""
	}
	prompt, _ := m["prompt"].(string)
	return prompt
}

// callLLM performs one completion and logs it on the run.
func callLLM(ctx context.Context, deps Deps, ec *runner.ExecutionContext, req llm.CompletionRequest) (runner.StepResult, error) {
	if req.Prompt == "" {
		return runner.StepResult{}, errors.New("prompt is required")
	}
	if req.Model == "" {
		req.Model = deps.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = deps.maxTokens()
	}

	ec.Info(ctx, "Starting Claude API call", nil)

	resp, err := deps.LLM.Complete(ctx, req)
	if err != nil {
		return runner.StepResult{}, err
	}

	ec.Info(ctx, "Claude API call completed", map[string]any{
		"inputTokens":  resp.Usage.InputTokens,
		"outputTokens": resp.Usage.OutputTokens,
	})

	return runner.StepResult{
		Output: map[string]any{"text": resp.Content},
		Metadata: map[string]any{
			"model":        resp.Model,
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
		},
	}, nil
}
