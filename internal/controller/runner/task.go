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

package runner

import (
	"context"
)

// TaskDefinition is the pipeline a task type produces for one run.
//
// Initialize is called once before Steps. Cleanup is called exactly once on
// every exit path after the definition has been constructed.
type TaskDefinition interface {
	Steps() []Step
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Step is one unit of pipeline work.
//
// Steps hold no run state of their own; anything that must survive between
// steps lives on the ExecutionContext.
type Step struct {
	// Name identifies the step in messages and in ExecutionContext outputs.
	Name string

	// Kind tags the step for observability only (for example "llm").
	Kind string

	// Execute runs the step against its input.
	Execute func(ctx context.Context, input any, ec *ExecutionContext) (StepResult, error)

	// TransformInput, if set, maps the previous step's output to this step's input.
	TransformInput func(previous any) (any, error)

	// ShouldSkip, if set, is consulted before the step runs. Returning true
	// skips the step without advancing the run's current step.
	ShouldSkip func(previous any, ec *ExecutionContext) (bool, error)
}

// StepResult is what a step produces.
type StepResult struct {
	Output   any
	Metadata map[string]any
}

// Factory constructs the task definition for one execution of a run.
type Factory func(ec *ExecutionContext) (TaskDefinition, error)

// Pipeline is a TaskDefinition with a fixed step list and no-op hooks.
type Pipeline struct {
	StepList []Step
}

// NewPipeline returns a Pipeline over steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{StepList: steps}
}

// Steps returns the pipeline's steps in order.
func (p *Pipeline) Steps() []Step { return p.StepList }

// Initialize does nothing.
func (p *Pipeline) Initialize(context.Context) error { return nil }

// Cleanup does nothing.
func (p *Pipeline) Cleanup(context.Context) error { return nil }
