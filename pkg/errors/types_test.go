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

package errors_test

import (
	"errors"
	"fmt"
	"testing"

	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *agenterrors.ValidationError
		wantMsg string
	}{
		{
			name:    "with field",
			err:     &agenterrors.ValidationError{Field: "input", Message: "must be an object"},
			wantMsg: "validation failed on input: must be an object",
		},
		{
			name:    "without field",
			err:     &agenterrors.ValidationError{Message: "invalid format"},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Is(t *testing.T) {
	err := fmt.Errorf("loading: %w", &agenterrors.NotFoundError{Resource: "run", ID: "abc"})

	if !errors.Is(err, agenterrors.ErrRunNotFound) {
		t.Error("expected wrapped run NotFoundError to match ErrRunNotFound")
	}
	if !errors.Is(err, &agenterrors.NotFoundError{Resource: "run", ID: "abc"}) {
		t.Error("expected exact resource and id to match")
	}
	if errors.Is(err, &agenterrors.NotFoundError{Resource: "run", ID: "other"}) {
		t.Error("different id must not match")
	}
	if errors.Is(err, &agenterrors.NotFoundError{Resource: "job"}) {
		t.Error("different resource must not match")
	}
	if got := err.Error(); got != "loading: run not found: abc" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestUnknownTaskTypeError_Error(t *testing.T) {
	err := &agenterrors.UnknownTaskTypeError{TaskType: "nope"}
	if got := err.Error(); got != "Unknown agent type: nope" {
		t.Errorf("got %q", got)
	}
}

func TestInvalidTransitionError_Error(t *testing.T) {
	err := &agenterrors.InvalidTransitionError{RunID: "r1", From: "completed", To: "cancel_requested"}
	want := "cannot transition run r1 from completed to cancel_requested"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStepExecutionError_UsesCauseMessage(t *testing.T) {
	cause := errors.New("prompt is required")
	err := &agenterrors.StepExecutionError{Step: "llm_call", StepNumber: 1, Phase: "execute", Cause: cause}

	if got := err.Error(); got != "prompt is required" {
		t.Errorf("got %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := agenterrors.Persistence("update run", cause)

	var perr *agenterrors.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PersistenceError, got %T", err)
	}
	if perr.Op != "update run" {
		t.Errorf("Op = %q", perr.Op)
	}
	if got := err.Error(); got != "update run: disk full" {
		t.Errorf("got %q", got)
	}
	if agenterrors.Persistence("noop", nil) != nil {
		t.Error("expected nil for nil cause")
	}

	notFound := &agenterrors.NotFoundError{Resource: "run", ID: "x"}
	if got := agenterrors.Persistence("get run", notFound); got != notFound {
		t.Error("classified errors should pass through unchanged")
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *agenterrors.ConfigError
		want string
	}{
		{
			name: "with key",
			err:  &agenterrors.ConfigError{Key: "auth.jwt_secret", Reason: "required"},
			want: "config error at auth.jwt_secret: required",
		},
		{
			name: "with cause",
			err:  &agenterrors.ConfigError{Reason: "failed to load", Cause: errors.New("no such file")},
			want: "config error: failed to load: no such file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&agenterrors.NotFoundError{Resource: "run"}, "not_found"},
		{fmt.Errorf("wrapped: %w", &agenterrors.InvalidTransitionError{}), "invalid_transition"},
		{&agenterrors.ValidationError{}, "validation"},
		{&agenterrors.UnknownTaskTypeError{}, "unknown_task_type"},
		{&agenterrors.ConflictError{Resource: "user"}, "conflict"},
		{fmt.Errorf("login: %w", &agenterrors.UnauthorizedError{Reason: "Invalid credentials"}), "unauthorized"},
		{errors.New("plain"), "internal"},
	}
	for _, tt := range tests {
		if got := agenterrors.TypeOf(tt.err); got != tt.want {
			t.Errorf("TypeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestConflictError_Error(t *testing.T) {
	if got := (&agenterrors.ConflictError{Resource: "user"}).Error(); got != "user already exists" {
		t.Errorf("Error() = %q", got)
	}
	err := &agenterrors.ConflictError{Resource: "user", Message: "User with this email already exists"}
	if got := err.Error(); got != "User with this email already exists" {
		t.Errorf("Error() = %q", got)
	}
}
