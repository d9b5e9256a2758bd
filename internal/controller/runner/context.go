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

	"github.com/tombee/agentrun/internal/controller/backend"
)

// ExecutionContext is the state of one execution of a run. It is created
// fresh by the Executor for every execution and is never persisted; the run
// record and its messages are its durable projection.
//
// Steps of a pipeline run sequentially, so the context is not safe for use
// from multiple goroutines.
type ExecutionContext struct {
	RunID    string
	UserID   string
	TaskType string

	// Input is the payload the run was launched with.
	Input map[string]any

	currentStep int
	outputs     map[string]any
	log         *RunLog
	checkCancel func(ctx context.Context) (bool, error)
}

// NewExecutionContext builds a context for run. It is exported for task
// packages that test their steps outside an Executor; log may be nil.
func NewExecutionContext(run *backend.Run, log *RunLog) *ExecutionContext {
	return &ExecutionContext{
		RunID:    run.ID,
		UserID:   run.UserID,
		TaskType: run.TaskType,
		Input:    run.Input,
		outputs:  make(map[string]any),
		log:      log,
	}
}

// CurrentStep returns the 1-based position of the step being evaluated, or 0
// before the first step.
func (ec *ExecutionContext) CurrentStep() int {
	return ec.currentStep
}

// Output returns the output recorded for the named step.
func (ec *ExecutionContext) Output(step string) (any, bool) {
	v, ok := ec.outputs[step]
	return v, ok
}

// Outputs returns a copy of every step output recorded so far.
func (ec *ExecutionContext) Outputs() map[string]any {
	c := make(map[string]any, len(ec.outputs))
	for k, v := range ec.outputs {
		c[k] = v
	}
	return c
}

// Log appends a message to the run's log, tagged with the current step.
func (ec *ExecutionContext) Log(ctx context.Context, level backend.MessageLevel, message string, details map[string]any) {
	if ec.log == nil {
		return
	}
	var step *int
	if ec.currentStep > 0 {
		step = backend.Ptr(ec.currentStep)
	}
	ec.log.Add(ctx, level, step, message, details)
}

// Info is Log at info level.
func (ec *ExecutionContext) Info(ctx context.Context, message string, details map[string]any) {
	ec.Log(ctx, backend.LevelInfo, message, details)
}

// Debug is Log at debug level.
func (ec *ExecutionContext) Debug(ctx context.Context, message string, details map[string]any) {
	ec.Log(ctx, backend.LevelDebug, message, details)
}

// Warn is Log at warn level.
func (ec *ExecutionContext) Warn(ctx context.Context, message string, details map[string]any) {
	ec.Log(ctx, backend.LevelWarn, message, details)
}

// CancellationRequested re-reads the run and reports whether its status is
// cancel_requested. Steps with internal loops may call it between iterations.
func (ec *ExecutionContext) CancellationRequested(ctx context.Context) (bool, error) {
	if ec.checkCancel == nil {
		return false, nil
	}
	return ec.checkCancel(ctx)
}

func (ec *ExecutionContext) record(step string, output any) {
	ec.outputs[step] = output
}
