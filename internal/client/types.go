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

package client

import "time"

// Run statuses reported by the server.
const (
	StatusPending         = "pending"
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusCancelled       = "cancelled"
	StatusCancelRequested = "cancel_requested"
)

// IsTerminal reports whether a run in this status will never change again.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// LaunchResponse is returned when a run is accepted.
type LaunchResponse struct {
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	PollURL   string    `json:"pollUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Run is the full view of a run.
type Run struct {
	RunID        string         `json:"runId"`
	AgentType    string         `json:"agentType"`
	Status       string         `json:"status"`
	CurrentStep  int            `json:"currentStep"`
	TotalSteps   *int           `json:"totalSteps"`
	Input        map[string]any `json:"input"`
	Output       any            `json:"output"`
	Error        *string        `json:"error"`
	ErrorDetails map[string]any `json:"errorDetails,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt"`
	Messages     []Message      `json:"messages,omitempty"`
}

// RunSummary is one row of a run listing.
type RunSummary struct {
	RunID       string     `json:"runId"`
	AgentType   string     `json:"agentType"`
	Status      string     `json:"status"`
	CurrentStep int        `json:"currentStep"`
	TotalSteps  *int       `json:"totalSteps"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// Message is one progress log entry.
type Message struct {
	MessageID  string         `json:"messageId"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	StepNumber *int           `json:"stepNumber"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Pagination describes a page of a run listing.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// ListResponse is a page of runs.
type ListResponse struct {
	Runs       []RunSummary `json:"runs"`
	Pagination Pagination   `json:"pagination"`
}

// CancelResponse is returned when cancellation is recorded.
type CancelResponse struct {
	RunID   string `json:"runId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the response from /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// VersionResponse is the response from /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}
