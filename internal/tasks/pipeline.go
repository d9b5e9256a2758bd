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
	"fmt"

	"github.com/tombee/agentrun/internal/controller/runner"
	"github.com/tombee/agentrun/internal/llm"
)

// Factory returns the runner factory for the definition.
func (d *Definition) Factory(deps Deps) runner.Factory {
	return func(*runner.ExecutionContext) (runner.TaskDefinition, error) {
		steps := make([]runner.Step, 0, len(d.Steps))
		for i := range d.Steps {
			s := &d.Steps[i]
			if s.Kind == KindLLM && deps.LLM == nil {
				return nil, fmt.Errorf("task %s step %s needs a reasoning client", d.Name, s.Name)
			}
			steps = append(steps, s.build(deps))
		}
		return runner.NewPipeline(steps...), nil
	}
}

func (s *StepDefinition) build(deps Deps) runner.Step {
	step := runner.Step{Name: s.Name, Kind: s.Kind}

	if s.skip != nil {
		prog := s.skip
		step.ShouldSkip = func(previous any, ec *runner.ExecutionContext) (bool, error) {
			return evaluateCondition(prog, previous, ec)
		}
	}
	if s.input != nil {
		prog := s.input
		step.TransformInput = func(previous any) (any, error) {
			return prog.Run(context.Background(), previous)
		}
	}

	switch s.Kind {
	case KindLLM:
		cfg := *s.LLM
		prompt, system := s.prompt, s.system
		step.Execute = func(ctx context.Context, input any, ec *runner.ExecutionContext) (runner.StepResult, error) {
			data, err := toJSONValue(input)
			if err != nil {
				return runner.StepResult{}, err
			}
			req := llm.CompletionRequest{Model: cfg.Model, MaxTokens: cfg.MaxTokens}
			if req.Prompt, err = render(prompt, data); err != nil {
				return runner.StepResult{}, err
			}
			if system != nil {
				if req.System, err = render(system, data); err != nil {
					return runner.StepResult{}, err
				}
			}
			return callLLM(ctx, deps, ec, req)
		}
	case KindJQ:
		prog := s.query
		step.Execute = func(ctx context.Context, input any, _ *runner.ExecutionContext) (runner.StepResult, error) {
			out, err := prog.Run(ctx, input)
			if err != nil {
				return runner.StepResult{}, err
			}
			return runner.StepResult{Output: out}, nil
		}
	default:
		step.Execute = func(_ context.Context, input any, _ *runner.ExecutionContext) (runner.StepResult, error) {
			return runner.StepResult{Output: input}, nil
		}
	}
	return step
}
