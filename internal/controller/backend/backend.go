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

// Package backend defines the durable records of agent runs and their
// diagnostic messages, and the storage contracts the controller uses to
// read and write them.
//
// # Interface Hierarchy
//
// The backend package uses interface segregation to allow minimal implementations:
//
//   - RunStore (core, required): CreateRun, GetRun, UpdateRun
//   - RunLister (optional): ListRuns
//   - MessageStore (required by the executor): AppendMessage, ListMessages
//   - Pinger (optional): Ping, used by the health endpoint
//   - io.Closer: Close
//
// The Backend interface composes all of these for full-featured implementations.
// The executor only needs RunStore and MessageStore; the API additionally needs
// RunLister.
//
// # Updates
//
// UpdateRun is a partial update. Only the fields set on RunUpdate are written,
// so the executor persisting progress never overwrites a cancel_requested
// status written concurrently by the request layer. RunUpdate.IfStatus turns
// the write into a compare-and-set on the current status.
package backend

import (
	"context"
	"io"
	"time"
)

// RunStatus is the lifecycle status of a run. Values are persisted and
// serialized verbatim.
type RunStatus string

const (
	StatusPending         RunStatus = "pending"
	StatusRunning         RunStatus = "running"
	StatusCompleted       RunStatus = "completed"
	StatusFailed          RunStatus = "failed"
	StatusCancelled       RunStatus = "cancelled"
	StatusCancelRequested RunStatus = "cancel_requested"
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []RunStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusCancelRequested,
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MessageLevel is the severity of a run message.
type MessageLevel string

const (
	LevelDebug MessageLevel = "debug"
	LevelInfo  MessageLevel = "info"
	LevelWarn  MessageLevel = "warn"
	LevelError MessageLevel = "error"
)

// RunStore is the core interface for run storage operations.
type RunStore interface {
	// CreateRun stores a new run. CreatedAt and UpdatedAt are stamped by the store.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. A missing run is a *errors.NotFoundError.
	GetRun(ctx context.Context, id string) (*Run, error)

	// UpdateRun applies a partial update and returns the run as stored afterwards.
	// A missing run is a *errors.NotFoundError. When update.IfStatus is set and
	// the stored status is not in it, nothing is written and the result is a
	// *errors.InvalidTransitionError.
	UpdateRun(ctx context.Context, id string, update RunUpdate) (*Run, error)
}

// RunLister is an optional interface for listing runs.
//
//	if lister, ok := store.(RunLister); ok {
//	    runs, total, err := lister.ListRuns(ctx, filter)
//	}
type RunLister interface {
	// ListRuns returns one page of runs, newest first, and the total number
	// of runs matching the filter.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, int, error)
}

// MessageStore is the append-only log of run messages.
type MessageStore interface {
	// AppendMessage stores a message. ID and CreatedAt are assigned by the
	// store when empty.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns a run's messages created strictly after since
	// (all messages when since is nil), oldest first.
	ListMessages(ctx context.Context, runID string, since *time.Time) ([]*Message, error)
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend defines the full interface for controller storage.
type Backend interface {
	RunStore
	RunLister
	MessageStore
	io.Closer
}

// Run is the durable record of one agent run.
type Run struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TaskType     string    `json:"task_type"`
	AgentVersion string    `json:"agent_version,omitempty"`
	Status       RunStatus `json:"status"`

	// Input is the payload supplied at launch.
	Input map[string]any `json:"input,omitempty"`

	// Output is the final step's output; nil until the run completes.
	Output any `json:"output,omitempty"`

	// CurrentStep counts steps completed or in progress. It never decreases.
	CurrentStep int `json:"current_step"`

	// TotalSteps is nil until the task's pipeline has been resolved.
	TotalSteps *int `json:"total_steps,omitempty"`

	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`

	// RetryCount and MaxRetries are recorded but not acted on.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// DispatchJobID references the queue entry that will execute the run.
	DispatchJobID string `json:"dispatch_job_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy of the run that shares no mutable state with r.
// Payload maps are copied one level deep.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Input = cloneMap(r.Input)
	c.ErrorDetails = cloneMap(r.ErrorDetails)
	if m, ok := r.Output.(map[string]any); ok {
		c.Output = cloneMap(m)
	}
	if r.TotalSteps != nil {
		v := *r.TotalSteps
		c.TotalSteps = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		c.StartedAt = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// RunUpdate is a partial update of a run. Nil fields are left unchanged.
type RunUpdate struct {
	Status        *RunStatus
	CurrentStep   *int
	TotalSteps    *int
	Output        any
	ErrorMessage  *string
	ErrorDetails  map[string]any
	DispatchJobID *string
	StartedAt     *time.Time
	CompletedAt   *time.Time

	// IfStatus makes the update conditional on the stored status being one of
	// these values.
	IfStatus []RunStatus
}

// Apply writes the set fields of u onto run. Stores use it to keep in-memory
// and SQL semantics identical.
func (u RunUpdate) Apply(run *Run) {
	if u.Status != nil {
		run.Status = *u.Status
	}
	if u.CurrentStep != nil {
		run.CurrentStep = *u.CurrentStep
	}
	if u.TotalSteps != nil {
		v := *u.TotalSteps
		run.TotalSteps = &v
	}
	if u.Output != nil {
		run.Output = u.Output
	}
	if u.ErrorMessage != nil {
		run.ErrorMessage = *u.ErrorMessage
	}
	if u.ErrorDetails != nil {
		run.ErrorDetails = cloneMap(u.ErrorDetails)
	}
	if u.DispatchJobID != nil {
		run.DispatchJobID = *u.DispatchJobID
	}
	if u.StartedAt != nil {
		v := *u.StartedAt
		run.StartedAt = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		run.CompletedAt = &v
	}
}

// Allows reports whether the update may be applied to a run in status.
func (u RunUpdate) Allows(status RunStatus) bool {
	if len(u.IfStatus) == 0 {
		return true
	}
	for _, s := range u.IfStatus {
		if s == status {
			return true
		}
	}
	return false
}

// Target returns the status the update writes, or the empty string.
func (u RunUpdate) Target() RunStatus {
	if u.Status == nil {
		return ""
	}
	return *u.Status
}

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	UserID   string
	Status   RunStatus
	TaskType string
	Limit    int
	Offset   int
}

// Message is one leveled diagnostic event recorded against a run.
type Message struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	StepNumber *int           `json:"step_number,omitempty"`
	Level      MessageLevel   `json:"level"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Ptr returns a pointer to v. It keeps RunUpdate literals short.
func Ptr[T any](v T) *T {
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
