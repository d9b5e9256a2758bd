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

package errors

import (
	"fmt"
)

// ErrRunNotFound matches any *NotFoundError whose Resource is "run".
//
//	if errors.Is(err, errors.ErrRunNotFound) { ... }
var ErrRunNotFound = &NotFoundError{Resource: "run"}

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "job")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Is matches another *NotFoundError for the same resource. An empty ID on the
// target matches any ID.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	if t.Resource != "" && t.Resource != e.Resource {
		return false
	}
	return t.ID == "" || t.ID == e.ID
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// UnknownTaskTypeError is returned when no task definition is registered
// under the requested name.
type UnknownTaskTypeError struct {
	TaskType string
}

// Error implements the error interface.
func (e *UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("Unknown agent type: %s", e.TaskType)
}

// ErrorType implements ErrorClassifier.
func (e *UnknownTaskTypeError) ErrorType() string { return "unknown_task_type" }

// IsRetryable implements ErrorClassifier.
func (e *UnknownTaskTypeError) IsRetryable() bool { return false }

// InvalidTransitionError is returned when a run status change is not allowed
// from the run's current status.
type InvalidTransitionError struct {
	RunID string
	From  string
	To    string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("cannot transition run %s from %s to %s", e.RunID, e.From, e.To)
	}
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// ErrorType implements ErrorClassifier.
func (e *InvalidTransitionError) ErrorType() string { return "invalid_transition" }

// IsRetryable implements ErrorClassifier.
func (e *InvalidTransitionError) IsRetryable() bool { return false }

// StepExecutionError wraps a failure raised while running a task: a step's
// execute function, one of its hooks, or the task's initialize hook.
//
// Error returns the cause's message unchanged; the run's recorded error
// message is what the step reported.
type StepExecutionError struct {
	// Step is the step name, or empty when the failure happened in initialize.
	Step string

	// StepNumber is the 1-based position of the step, or 0 for initialize.
	StepNumber int

	// Phase is one of "initialize", "should_skip", "transform_input", "execute".
	Phase string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StepExecutionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("step %s failed during %s", e.Step, e.Phase)
	}
	return e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *StepExecutionError) ErrorType() string { return "step_execution" }

// IsRetryable implements ErrorClassifier.
func (e *StepExecutionError) IsRetryable() bool { return false }

// PersistenceError wraps a failure from a run, message or job store.
type PersistenceError struct {
	// Op names the store operation (e.g., "get run", "update run").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *PersistenceError) ErrorType() string { return "persistence" }

// IsRetryable implements ErrorClassifier.
func (e *PersistenceError) IsRetryable() bool { return true }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "auth.jwt_secret")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// ConflictError is returned when a resource with the same unique key
// already exists.
type ConflictError struct {
	// Resource is the type of resource (e.g., "user")
	Resource string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s already exists", e.Resource)
}

// ErrorType implements ErrorClassifier.
func (e *ConflictError) ErrorType() string { return "conflict" }

// IsRetryable implements ErrorClassifier.
func (e *ConflictError) IsRetryable() bool { return false }

// UnauthorizedError is returned when credentials or a refresh token are
// rejected. Reason is safe to show to the caller.
type UnauthorizedError struct {
	Reason string
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	return e.Reason
}

// ErrorType implements ErrorClassifier.
func (e *UnauthorizedError) ErrorType() string { return "unauthorized" }

// IsRetryable implements ErrorClassifier.
func (e *UnauthorizedError) IsRetryable() bool { return false }
