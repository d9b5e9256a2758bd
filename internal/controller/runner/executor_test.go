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

package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/backend/memory"
	"github.com/tombee/agentrun/internal/controller/queue"
	"github.com/tombee/agentrun/internal/controller/runner"
	internallog "github.com/tombee/agentrun/internal/log"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// testTask records hook calls around a fixed step list.
type testTask struct {
	steps        []runner.Step
	initErr      error
	cleanupErr   error
	initCalls    int
	cleanupCalls int
}

func (t *testTask) Steps() []runner.Step { return t.steps }

func (t *testTask) Initialize(context.Context) error {
	t.initCalls++
	return t.initErr
}

func (t *testTask) Cleanup(context.Context) error {
	t.cleanupCalls++
	return t.cleanupErr
}

type testEnv struct {
	store    *memory.Backend
	queue    *queue.MemoryQueue
	registry *runner.Registry
	service  *runner.Service
	executor *runner.Executor
	spans    *tracetest.SpanRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	store := memory.New()
	q := queue.NewMemoryQueue()
	reg := runner.NewRegistry()
	opts := []runner.Option{
		runner.WithLogger(internallog.Discard()),
		runner.WithTracer(tp.Tracer("test")),
	}

	return &testEnv{
		store:    store,
		queue:    q,
		registry: reg,
		service:  runner.NewService(store, q, opts...),
		executor: runner.NewExecutor(store, store, reg, opts...),
		spans:    spans,
	}
}

func (env *testEnv) register(taskType string, task *testTask) {
	env.registry.Register(taskType, func(*runner.ExecutionContext) (runner.TaskDefinition, error) {
		return task, nil
	})
}

func (env *testEnv) launch(t *testing.T, taskType string, input map[string]any) *backend.Run {
	t.Helper()
	run, err := env.service.Launch(context.Background(), runner.LaunchRequest{
		UserID:   "user-1",
		TaskType: taskType,
		Input:    input,
	})
	require.NoError(t, err)
	return run
}

func (env *testEnv) messages(t *testing.T, runID string) []*backend.Message {
	t.Helper()
	msgs, err := env.store.ListMessages(context.Background(), runID, nil)
	require.NoError(t, err)
	return msgs
}

func messageTexts(msgs []*backend.Message) []string {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Message
	}
	return texts
}

func echoStep(name string) runner.Step {
	return runner.Step{
		Name: name,
		Kind: "test",
		Execute: func(_ context.Context, input any, _ *runner.ExecutionContext) (runner.StepResult, error) {
			return runner.StepResult{Output: map[string]any{"from": name, "input": input}}, nil
		},
	}
}

func TestExecutor_SingleStepCompletes(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{steps: []runner.Step{{
		Name: "llm_call",
		Kind: "llm",
		Execute: func(_ context.Context, input any, ec *runner.ExecutionContext) (runner.StepResult, error) {
			assert.Equal(t, 1, ec.CurrentStep())
			prompt := input.(map[string]any)["prompt"].(string)
			return runner.StepResult{Output: map[string]any{"text": "echo: " + prompt}}, nil
		},
	}}}
	env.register("simple", task)

	run := env.launch(t, "simple", map[string]any{"prompt": "hi"})
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))

	got, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	require.NotNil(t, got.TotalSteps)
	assert.Equal(t, 1, *got.TotalSteps)
	assert.Equal(t, map[string]any{"text": "echo: hi"}, got.Output)
	assert.Empty(t, got.ErrorMessage)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	texts := messageTexts(env.messages(t, run.ID))
	assert.Equal(t, []string{"Agent run started", "Starting step: llm_call", "Agent run completed"}, texts)

	assert.Equal(t, 1, task.initCalls)
	assert.Equal(t, 1, task.cleanupCalls)
}

func TestExecutor_CancelRequestedBeforeClaim(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{steps: []runner.Step{echoStep("only")}}
	env.register("simple", task)
	ctx := context.Background()

	run := env.launch(t, "simple", map[string]any{"prompt": "hi"})

	// A worker holds the job, so the request cannot remove it from the queue.
	job, err := env.queue.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	requested, err := env.service.RequestCancel(ctx, run.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCancelRequested, requested.Status)

	require.NoError(t, env.executor.Execute(ctx, run.ID))

	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCancelled, got.Status)
	assert.Equal(t, 0, got.CurrentStep)
	assert.Nil(t, got.Output)
	assert.Empty(t, got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	texts := messageTexts(env.messages(t, run.ID))
	assert.Contains(t, texts, "Run cancelled by user request")
	for _, text := range texts {
		assert.NotContains(t, text, "Starting step")
	}
	assert.Equal(t, 0, task.initCalls, "pipeline untouched")
	assert.Equal(t, 0, task.cleanupCalls)
}

func TestExecutor_StepFailure(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{steps: []runner.Step{{
		Name: "llm_call",
		Kind: "llm",
		Execute: func(context.Context, any, *runner.ExecutionContext) (runner.StepResult, error) {
			return runner.StepResult{}, errors.New("prompt is required")
		},
	}}}
	env.register("simple", task)

	run := env.launch(t, "simple", map[string]any{})
	err := env.executor.Execute(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, "prompt is required", err.Error())

	var stepErr *agenterrors.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "llm_call", stepErr.Step)
	assert.Equal(t, 1, stepErr.StepNumber)
	assert.Equal(t, "execute", stepErr.Phase)

	got, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusFailed, got.Status)
	assert.Equal(t, "prompt is required", got.ErrorMessage)
	assert.Equal(t, "llm_call", got.ErrorDetails["step"])
	assert.Nil(t, got.Output)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 0, got.CurrentStep)

	var errorEntries []*backend.Message
	for _, m := range env.messages(t, run.ID) {
		if m.Level == backend.LevelError {
			errorEntries = append(errorEntries, m)
		}
	}
	require.Len(t, errorEntries, 1)
	assert.Equal(t, "Agent run failed: prompt is required", errorEntries[0].Message)
	require.NotNil(t, errorEntries[0].StepNumber)
	assert.Equal(t, 1, *errorEntries[0].StepNumber)

	assert.Equal(t, 1, task.cleanupCalls)
}

func TestExecutor_SkipStep(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{steps: []runner.Step{
		echoStep("first"),
		{
			Name: "optional",
			Kind: "test",
			ShouldSkip: func(previous any, ec *runner.ExecutionContext) (bool, error) {
				assert.Equal(t, "first", previous.(map[string]any)["from"])
				return true, nil
			},
			Execute: func(context.Context, any, *runner.ExecutionContext) (runner.StepResult, error) {
				t.Error("skipped step must not execute")
				return runner.StepResult{}, nil
			},
		},
	}}
	env.register("skippy", task)

	run := env.launch(t, "skippy", map[string]any{"prompt": "hi"})
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))

	got, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentStep, "skip does not advance the current step")
	require.NotNil(t, got.TotalSteps)
	assert.Equal(t, 2, *got.TotalSteps, "skipped steps still count in the total")
	assert.Equal(t, "first", got.Output.(map[string]any)["from"], "output is the last executed step's")

	texts := messageTexts(env.messages(t, run.ID))
	assert.Contains(t, texts, "Skipping step: optional")
	assert.NotContains(t, texts, "Starting step: optional")
}

func TestExecutor_InputChainingAndTransform(t *testing.T) {
	env := newTestEnv(t)

	var seen []any
	task := &testTask{steps: []runner.Step{
		{
			Name: "double",
			Execute: func(_ context.Context, input any, _ *runner.ExecutionContext) (runner.StepResult, error) {
				seen = append(seen, input)
				n := input.(map[string]any)["n"].(int)
				return runner.StepResult{Output: n * 2}, nil
			},
		},
		{
			Name: "wrap",
			TransformInput: func(previous any) (any, error) {
				return map[string]any{"value": previous}, nil
			},
			Execute: func(_ context.Context, input any, ec *runner.ExecutionContext) (runner.StepResult, error) {
				seen = append(seen, input)
				doubled, ok := ec.Output("double")
				assert.True(t, ok)
				assert.Equal(t, 42, doubled)
				return runner.StepResult{Output: input}, nil
			},
		},
	}}
	env.register("chain", task)

	run := env.launch(t, "chain", map[string]any{"n": 21})
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))

	require.Len(t, seen, 2)
	assert.Equal(t, map[string]any{"n": 21}, seen[0], "first step receives the run input")
	assert.Equal(t, map[string]any{"value": 42}, seen[1])

	got, _ := env.store.GetRun(context.Background(), run.ID)
	assert.Equal(t, map[string]any{"value": 42}, got.Output)
	assert.Equal(t, 2, got.CurrentStep)
}

func TestExecutor_CancelBetweenSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	secondRan := false
	task := &testTask{steps: []runner.Step{
		{
			Name: "first",
			Execute: func(ctx context.Context, _ any, ec *runner.ExecutionContext) (runner.StepResult, error) {
				// The request arrives while this step is in flight.
				_, err := env.service.RequestCancel(ctx, ec.RunID, ec.UserID)
				require.NoError(t, err)
				requested, err := ec.CancellationRequested(ctx)
				require.NoError(t, err)
				assert.True(t, requested)
				return runner.StepResult{Output: "done"}, nil
			},
		},
		{
			Name: "second",
			Execute: func(context.Context, any, *runner.ExecutionContext) (runner.StepResult, error) {
				secondRan = true
				return runner.StepResult{}, nil
			},
		},
	}}
	env.register("two", task)

	run := env.launch(t, "two", nil)
	require.NoError(t, env.executor.Execute(ctx, run.ID))

	assert.False(t, secondRan)
	got, _ := env.store.GetRun(ctx, run.ID)
	assert.Equal(t, backend.StatusCancelled, got.Status)
	assert.Equal(t, 1, got.CurrentStep, "the in-flight step finished and was recorded")
	assert.Nil(t, got.Output)
	assert.Equal(t, 1, task.cleanupCalls)
}

func TestExecutor_UnknownTaskType(t *testing.T) {
	env := newTestEnv(t)

	run := env.launch(t, "nope", map[string]any{})
	err := env.executor.Execute(context.Background(), run.ID)

	var unknown *agenterrors.UnknownTaskTypeError
	require.ErrorAs(t, err, &unknown)

	got, _ := env.store.GetRun(context.Background(), run.ID)
	assert.Equal(t, backend.StatusFailed, got.Status)
	assert.Equal(t, "Unknown agent type: nope", got.ErrorMessage)
	assert.Nil(t, got.TotalSteps)
	assert.Equal(t, "unknown_task_type", got.ErrorDetails["error_type"])
}

func TestExecutor_RunNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.executor.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, agenterrors.ErrRunNotFound)
}

func TestExecutor_InitializeFailureStillCleansUp(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{
		steps:   []runner.Step{echoStep("never")},
		initErr: errors.New("no credentials"),
	}
	env.register("broken", task)

	run := env.launch(t, "broken", nil)
	err := env.executor.Execute(context.Background(), run.ID)
	require.Error(t, err)

	got, _ := env.store.GetRun(context.Background(), run.ID)
	assert.Equal(t, backend.StatusFailed, got.Status)
	assert.Equal(t, "no credentials", got.ErrorMessage)
	assert.Equal(t, "initialize", got.ErrorDetails["phase"])
	assert.Equal(t, 1, task.cleanupCalls)
}

func TestExecutor_HookFailures(t *testing.T) {
	executed := func(calls *int) runner.Step {
		return runner.Step{
			Name: "second",
			Kind: "test",
			Execute: func(context.Context, any, *runner.ExecutionContext) (runner.StepResult, error) {
				*calls++
				return runner.StepResult{}, nil
			},
		}
	}

	tests := []struct {
		name      string
		setup     func(env *testEnv, calls *int) *testTask
		wantPhase string
		wantMsg   string
		wantStep  *int
	}{
		{
			name: "should_skip error",
			setup: func(env *testEnv, calls *int) *testTask {
				step := executed(calls)
				step.ShouldSkip = func(any, *runner.ExecutionContext) (bool, error) {
					return false, errors.New("skip predicate broke")
				}
				task := &testTask{steps: []runner.Step{echoStep("first"), step}}
				env.register("hooks", task)
				return task
			},
			wantPhase: "should_skip",
			wantMsg:   "skip predicate broke",
			wantStep:  backend.Ptr(2),
		},
		{
			name: "transform_input error",
			setup: func(env *testEnv, calls *int) *testTask {
				step := executed(calls)
				step.TransformInput = func(any) (any, error) {
					return nil, errors.New("cannot reshape input")
				}
				task := &testTask{steps: []runner.Step{echoStep("first"), step}}
				env.register("hooks", task)
				return task
			},
			wantPhase: "transform_input",
			wantMsg:   "cannot reshape input",
			wantStep:  backend.Ptr(2),
		},
		{
			name: "factory error",
			setup: func(env *testEnv, calls *int) *testTask {
				env.registry.Register("hooks", func(*runner.ExecutionContext) (runner.TaskDefinition, error) {
					return nil, errors.New("missing api key")
				})
				return nil
			},
			wantPhase: "initialize",
			wantMsg:   "missing api key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var calls int
			task := tt.setup(env, &calls)

			run := env.launch(t, "hooks", map[string]any{"prompt": "hi"})
			err := env.executor.Execute(context.Background(), run.ID)
			require.Error(t, err)

			var stepErr *agenterrors.StepExecutionError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.wantPhase, stepErr.Phase)

			got, err := env.store.GetRun(context.Background(), run.ID)
			require.NoError(t, err)
			assert.Equal(t, backend.StatusFailed, got.Status)
			assert.Equal(t, tt.wantMsg, got.ErrorMessage)
			assert.Equal(t, tt.wantPhase, got.ErrorDetails["phase"])
			assert.Equal(t, "step_execution", got.ErrorDetails["error_type"])
			assert.NotNil(t, got.CompletedAt)
			assert.Zero(t, calls, "failing step must not execute")

			var errorEntries []*backend.Message
			for _, m := range env.messages(t, run.ID) {
				if m.Level == backend.LevelError {
					errorEntries = append(errorEntries, m)
				}
			}
			require.Len(t, errorEntries, 1)
			assert.Equal(t, "Agent run failed: "+tt.wantMsg, errorEntries[0].Message)
			assert.Equal(t, tt.wantStep, errorEntries[0].StepNumber)

			if task != nil {
				assert.Equal(t, 1, task.cleanupCalls)
				assert.Equal(t, 1, got.CurrentStep, "first step completed before the hook failed")
				assert.Equal(t, "second", got.ErrorDetails["step"])
			}
		})
	}
}

func TestExecutor_CleanupFailureDoesNotChangeOutcome(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{
		steps:      []runner.Step{echoStep("only")},
		cleanupErr: errors.New("temp dir busy"),
	}
	env.register("simple", task)

	run := env.launch(t, "simple", nil)
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))

	got, _ := env.store.GetRun(context.Background(), run.ID)
	assert.Equal(t, backend.StatusCompleted, got.Status)
	assert.Contains(t, messageTexts(env.messages(t, run.ID)), "Cleanup failed: temp dir busy")
}

func TestExecutor_FinishedRunIsNotReExecuted(t *testing.T) {
	env := newTestEnv(t)
	task := &testTask{steps: []runner.Step{echoStep("only")}}
	env.register("simple", task)

	run := env.launch(t, "simple", nil)
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))

	assert.Equal(t, 1, task.initCalls)
}

// progressStore records every CurrentStep written through UpdateRun.
type progressStore struct {
	*memory.Backend
	mu    sync.Mutex
	steps []int
}

func (p *progressStore) UpdateRun(ctx context.Context, id string, update backend.RunUpdate) (*backend.Run, error) {
	run, err := p.Backend.UpdateRun(ctx, id, update)
	if err == nil {
		p.mu.Lock()
		p.steps = append(p.steps, run.CurrentStep)
		p.mu.Unlock()
	}
	return run, err
}

func TestExecutor_CurrentStepNeverDecreases(t *testing.T) {
	store := &progressStore{Backend: memory.New()}
	reg := runner.NewRegistry()
	reg.Register("three", func(*runner.ExecutionContext) (runner.TaskDefinition, error) {
		return runner.NewPipeline(echoStep("a"), echoStep("b"), echoStep("c")), nil
	})

	svc := runner.NewService(store, queue.NewMemoryQueue(), runner.WithLogger(internallog.Discard()))
	exec := runner.NewExecutor(store, store, reg, runner.WithLogger(internallog.Discard()))

	run, err := svc.Launch(context.Background(), runner.LaunchRequest{UserID: "u", TaskType: "three"})
	require.NoError(t, err)
	require.NoError(t, exec.Execute(context.Background(), run.ID))

	require.NotEmpty(t, store.steps)
	for i := 1; i < len(store.steps); i++ {
		assert.GreaterOrEqual(t, store.steps[i], store.steps[i-1], "current step went backwards: %v", store.steps)
	}
	assert.Equal(t, 3, store.steps[len(store.steps)-1])
}

func TestExecutor_Spans(t *testing.T) {
	env := newTestEnv(t)
	env.register("two", &testTask{steps: []runner.Step{echoStep("a"), echoStep("b")}})

	run := env.launch(t, "two", nil)
	require.NoError(t, env.executor.Execute(context.Background(), run.ID))

	var runSpans, stepSpans int
	for _, span := range env.spans.Ended() {
		switch span.Name() {
		case "agentrun.run":
			runSpans++
		case "agentrun.step":
			stepSpans++
			assert.True(t, span.Parent().IsValid(), "step spans are children of the run span")
		}
	}
	assert.Equal(t, 1, runSpans)
	assert.Equal(t, 2, stepSpans)
}
