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

// Step execution logic for agent runs.
// Contains the pipeline loop that drives a task definition to a terminal
// status and the cooperative cancellation checks between steps.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/metrics"
	internallog "github.com/tombee/agentrun/internal/log"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// Executor drives one run's step pipeline to a terminal status.
//
// A single Executor is shared by every worker slot; it keeps no per-run
// state between calls.
type Executor struct {
	runs     backend.RunStore
	messages backend.MessageStore
	registry *Registry

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(runs backend.RunStore, messages backend.MessageStore, registry *Registry, opts ...Option) *Executor {
	o := applyOptions(opts)
	return &Executor{
		runs:     runs,
		messages: messages,
		registry: registry,
		logger:   internallog.WithComponent(o.logger, "executor"),
		tracer:   o.tracer,
		now:      o.now,
	}
}

// Execute runs the pipeline of run runID.
//
// It returns the error that failed the run, after the run has been recorded
// as failed, so the caller's job accounting matches the run record. A
// cancelled run returns nil, as does a run that had already finished. A
// missing run returns *errors.NotFoundError and nothing is written.
func (e *Executor) Execute(ctx context.Context, runID string) error {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return metrics.ObservePersistence("GetRun", err)
	}

	ctx, span := e.tracer.Start(ctx, "agentrun.run", trace.WithAttributes(
		attribute.String("agentrun.run_id", run.ID),
		attribute.String("agentrun.task_type", run.TaskType),
		attribute.String("agentrun.user_id", run.UserID),
	))
	defer span.End()

	logger := internallog.WithRunContext(e.logger, run.ID, run.TaskType)
	rl := newRunLog(run.ID, e.messages, logger)

	if run.Status == backend.StatusCancelRequested {
		return e.finalizeCancelled(ctx, span, run, rl)
	}
	if run.Status.IsTerminal() {
		logger.Warn("run already finished, nothing to execute", slog.String("status", string(run.Status)))
		return nil
	}

	start := e.now()
	update := transitionTo(backend.StatusRunning)
	update.StartedAt = &start
	if _, err := e.runs.UpdateRun(ctx, run.ID, update); err != nil {
		// A cancellation that landed between the read and this write still wins.
		var transition *agenterrors.InvalidTransitionError
		if errors.As(err, &transition) && transition.From == string(backend.StatusCancelRequested) {
			return e.finalizeCancelled(ctx, span, run, rl)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return metrics.ObservePersistence("UpdateRun", err)
	}

	activeRuns.Inc()
	defer activeRuns.Dec()

	rl.Info(ctx, nil, "Agent run started", nil)

	return e.runPipeline(ctx, span, run, rl)
}

// runPipeline resolves the task definition and runs its steps. Everything
// from resolution onwards funnels failures into fail.
func (e *Executor) runPipeline(ctx context.Context, span trace.Span, run *backend.Run, rl *RunLog) error {
	factory, err := e.registry.Resolve(run.TaskType)
	if err != nil {
		return e.fail(ctx, span, run, rl, err)
	}

	ec := NewExecutionContext(run, rl)
	ec.checkCancel = func(ctx context.Context) (bool, error) {
		return e.cancellationRequested(ctx, run.ID)
	}

	task, err := factory(ec)
	if err != nil {
		return e.fail(ctx, span, run, rl, &agenterrors.StepExecutionError{Phase: "initialize", Cause: err})
	}
	defer e.cleanup(ctx, task, rl)

	if err := task.Initialize(ctx); err != nil {
		return e.fail(ctx, span, run, rl, &agenterrors.StepExecutionError{Phase: "initialize", Cause: err})
	}

	steps := task.Steps()
	if _, err := e.runs.UpdateRun(ctx, run.ID, backend.RunUpdate{TotalSteps: backend.Ptr(len(steps))}); err != nil {
		return e.fail(ctx, span, run, rl, metrics.ObservePersistence("UpdateRun", agenterrors.Persistence("UpdateRun", err)))
	}

	var previous any = run.Input
	for i, step := range steps {
		number := i + 1
		ec.currentStep = number

		cancelled, err := ec.CancellationRequested(ctx)
		if err != nil {
			return e.fail(ctx, span, run, rl, err)
		}
		if cancelled {
			return e.finalizeCancelled(ctx, span, run, rl)
		}

		output, skipped, err := e.runStep(ctx, run, ec, rl, step, number, previous)
		if err != nil {
			return e.fail(ctx, span, run, rl, err)
		}
		if skipped {
			continue
		}

		previous = output
		ec.record(step.Name, output)

		if _, err := e.runs.UpdateRun(ctx, run.ID, backend.RunUpdate{CurrentStep: backend.Ptr(number)}); err != nil {
			return e.fail(ctx, span, run, rl, metrics.ObservePersistence("UpdateRun", agenterrors.Persistence("UpdateRun", err)))
		}
	}

	completed := e.now()
	update := transitionTo(backend.StatusCompleted)
	update.Output = previous
	update.CompletedAt = &completed
	if _, err := e.runs.UpdateRun(ctx, run.ID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return metrics.ObservePersistence("UpdateRun", err)
	}

	rl.Info(ctx, nil, "Agent run completed", nil)
	recordRunOutcome(run.TaskType, string(backend.StatusCompleted))
	span.SetAttributes(attribute.String("agentrun.status", string(backend.StatusCompleted)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// runStep evaluates the skip hook, computes the step input and executes the
// step. It reports skipped=true when the step did not run.
func (e *Executor) runStep(ctx context.Context, run *backend.Run, ec *ExecutionContext, rl *RunLog, step Step, number int, previous any) (any, bool, error) {
	stepErr := func(phase string, err error) error {
		return &agenterrors.StepExecutionError{Step: step.Name, StepNumber: number, Phase: phase, Cause: err}
	}

	if step.ShouldSkip != nil {
		skip, err := step.ShouldSkip(previous, ec)
		if err != nil {
			return nil, false, stepErr("should_skip", err)
		}
		if skip {
			rl.Info(ctx, backend.Ptr(number), "Skipping step: "+step.Name, nil)
			recordStep(run.TaskType, step.Kind, "skipped", 0)
			return nil, true, nil
		}
	}

	input := previous
	if step.TransformInput != nil {
		transformed, err := step.TransformInput(previous)
		if err != nil {
			return nil, false, stepErr("transform_input", err)
		}
		input = transformed
	}

	ctx, span := e.tracer.Start(ctx, "agentrun.step", trace.WithAttributes(
		attribute.String("agentrun.run_id", run.ID),
		attribute.String("agentrun.task_type", run.TaskType),
		attribute.String("agentrun.step", step.Name),
		attribute.String("agentrun.step_kind", step.Kind),
		attribute.Int("agentrun.step_number", number),
	))
	defer span.End()

	rl.Info(ctx, backend.Ptr(number), "Starting step: "+step.Name, map[string]any{"kind": step.Kind})

	if step.Execute == nil {
		err := stepErr("execute", fmt.Errorf("step %s has no execute function", step.Name))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	started := time.Now()
	result, err := step.Execute(ctx, input, ec)
	elapsed := time.Since(started)
	if err != nil {
		recordStep(run.TaskType, step.Kind, "failed", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, stepErr("execute", err)
	}

	recordStep(run.TaskType, step.Kind, "completed", elapsed)
	internallog.WithStepContext(e.logger, step.Name, number).Debug("step completed",
		slog.String(internallog.RunIDKey, run.ID),
		internallog.Duration(internallog.DurationKey, elapsed.Milliseconds()),
		slog.Any("metadata", result.Metadata),
	)
	span.SetStatus(codes.Ok, "")
	return result.Output, false, nil
}

// cancellationRequested re-reads the run from the store. The request layer
// runs in another process, so the store is the only shared signal.
func (e *Executor) cancellationRequested(ctx context.Context, runID string) (bool, error) {
	current, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return false, metrics.ObservePersistence("GetRun", agenterrors.Persistence("GetRun", err))
	}
	return current.Status == backend.StatusCancelRequested, nil
}

// finalizeCancelled resolves cancel_requested into cancelled.
func (e *Executor) finalizeCancelled(ctx context.Context, span trace.Span, run *backend.Run, rl *RunLog) error {
	completed := e.now()
	update := transitionTo(backend.StatusCancelled)
	update.CompletedAt = &completed
	if _, err := e.runs.UpdateRun(ctx, run.ID, update); err != nil {
		span.RecordError(err)
		return metrics.ObservePersistence("UpdateRun", err)
	}

	rl.Info(ctx, nil, "Run cancelled by user request", nil)
	recordRunOutcome(run.TaskType, string(backend.StatusCancelled))
	span.SetAttributes(attribute.String("agentrun.status", string(backend.StatusCancelled)))
	return nil
}

// fail records cause on the run and returns it. If the failure itself cannot
// be recorded both errors are returned.
func (e *Executor) fail(ctx context.Context, span trace.Span, run *backend.Run, rl *RunLog, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	span.SetAttributes(attribute.String("agentrun.status", string(backend.StatusFailed)))

	message := cause.Error()
	completed := e.now()
	update := transitionTo(backend.StatusFailed)
	update.ErrorMessage = &message
	update.ErrorDetails = errorDetails(cause)
	update.CompletedAt = &completed

	if _, err := e.runs.UpdateRun(ctx, run.ID, update); err != nil {
		return errors.Join(cause, metrics.ObservePersistence("UpdateRun", err))
	}

	var step *int
	var stepErr *agenterrors.StepExecutionError
	if errors.As(cause, &stepErr) && stepErr.StepNumber > 0 {
		step = backend.Ptr(stepErr.StepNumber)
	}
	rl.Error(ctx, step, "Agent run failed: "+message, map[string]any{"error_type": agenterrors.TypeOf(cause)})
	recordRunOutcome(run.TaskType, string(backend.StatusFailed))
	return cause
}

// cleanup calls the task's cleanup hook. A cleanup failure is logged and
// does not change the run's outcome.
func (e *Executor) cleanup(ctx context.Context, task TaskDefinition, rl *RunLog) {
	if err := task.Cleanup(ctx); err != nil {
		rl.Add(ctx, backend.LevelWarn, nil, "Cleanup failed: "+err.Error(), nil)
	}
}

func errorDetails(err error) map[string]any {
	details := map[string]any{"error_type": agenterrors.TypeOf(err)}
	var stepErr *agenterrors.StepExecutionError
	if errors.As(err, &stepErr) {
		details["phase"] = stepErr.Phase
		if stepErr.Step != "" {
			details["step"] = stepErr.Step
			details["step_number"] = stepErr.StepNumber
		}
	}
	return details
}
