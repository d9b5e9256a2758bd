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

/*
Package runner provides the agent run lifecycle engine.

A run is one invocation of a registered task type against an input payload.
The request layer creates runs through the Service and hands them to the
dispatch queue; a worker later claims the job and calls Executor.Execute,
which drives the task's step pipeline to a terminal status.

# Key Types

  - Registry: task type name to TaskDefinition factory
  - TaskDefinition, Step: the ordered pipeline a task type produces
  - ExecutionContext: per-execution state shared by the steps of one run
  - Executor: runs one pipeline to completed, failed or cancelled
  - Service: launch, poll, list and cancel operations for the request layer

# Usage

Register task types at start-up, before any worker claims a job:

	reg := runner.NewRegistry()
	reg.Register("simple", simple.Factory(llmClient, simple.Config{}))

Launch a run and execute it:

	svc := runner.NewService(store, dispatcher)
	run, err := svc.Launch(ctx, runner.LaunchRequest{
	    UserID:   "user-1",
	    TaskType: "simple",
	    Input:    map[string]any{"prompt": "hello"},
	})

	exec := runner.NewExecutor(store, store, reg)
	err = exec.Execute(ctx, run.ID)

# Status Lifecycle

	pending -> running -> completed | failed
	pending | running -> cancel_requested -> cancelled

cancel_requested is written by Service.RequestCancel. The Executor resolves
it into cancelled at the next step boundary it observes, by re-reading the
run from the store. A step that is already executing is never interrupted.

# Observability

Every lifecycle event is appended to the run's message log and mirrored to
slog. The Executor opens an OpenTelemetry span per run and per executed step,
and records Prometheus counters for run and step outcomes.
*/
package runner
