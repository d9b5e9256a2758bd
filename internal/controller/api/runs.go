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

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/agentrun/internal/controller/auth"
	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/runner"
)

// Cancel response messages. A run that no worker had claimed is cancelled
// on the spot; otherwise it stops at the next step boundary.
const (
	CancelMessage    = "Cancellation requested. Run will stop after current step."
	CancelledMessage = "Run cancelled before it started."
)

func cancelMessage(status backend.RunStatus) string {
	if status == backend.StatusCancelled {
		return CancelledMessage
	}
	return CancelMessage
}

// LaunchRequest is the body of POST /agents/{agentType}/run.
type LaunchRequest struct {
	Input map[string]any `json:"input"`
}

// LaunchResponse is returned when a run is accepted.
type LaunchResponse struct {
	RunID     string            `json:"runId"`
	Status    backend.RunStatus `json:"status"`
	PollURL   string            `json:"pollUrl"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RunView is the detailed representation of a run.
type RunView struct {
	RunID        string            `json:"runId"`
	AgentType    string            `json:"agentType"`
	Status       backend.RunStatus `json:"status"`
	CurrentStep  int               `json:"currentStep"`
	TotalSteps   *int              `json:"totalSteps"`
	Input        map[string]any    `json:"input"`
	Output       any               `json:"output"`
	Error        *string           `json:"error"`
	ErrorDetails map[string]any    `json:"errorDetails,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    *time.Time        `json:"startedAt"`
	CompletedAt  *time.Time        `json:"completedAt"`
	Messages     []MessageView     `json:"messages,omitempty"`
}

// RunSummary is the list representation of a run.
type RunSummary struct {
	RunID       string            `json:"runId"`
	AgentType   string            `json:"agentType"`
	Status      backend.RunStatus `json:"status"`
	CurrentStep int               `json:"currentStep"`
	TotalSteps  *int              `json:"totalSteps"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt"`
}

// MessageView is a progress message as returned to callers.
type MessageView struct {
	MessageID  string               `json:"messageId"`
	Level      backend.MessageLevel `json:"level"`
	Message    string               `json:"message"`
	StepNumber *int                 `json:"stepNumber"`
	Details    map[string]any       `json:"details,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// Pagination describes one page of a run listing.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// ListResponse is returned by GET /agents/runs.
type ListResponse struct {
	Runs       []RunSummary `json:"runs"`
	Pagination Pagination   `json:"pagination"`
}

// CancelResponse is returned when a cancellation is accepted.
type CancelResponse struct {
	RunID   string            `json:"runId"`
	Status  backend.RunStatus `json:"status"`
	Message string            `json:"message"`
}

func newRunView(run *backend.Run) RunView {
	view := RunView{
		RunID:        run.ID,
		AgentType:    run.TaskType,
		Status:       run.Status,
		CurrentStep:  run.CurrentStep,
		TotalSteps:   run.TotalSteps,
		Input:        run.Input,
		Output:       run.Output,
		ErrorDetails: run.ErrorDetails,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
	if run.ErrorMessage != "" {
		view.Error = &run.ErrorMessage
	}
	return view
}

func newRunSummary(run *backend.Run) RunSummary {
	return RunSummary{
		RunID:       run.ID,
		AgentType:   run.TaskType,
		Status:      run.Status,
		CurrentStep: run.CurrentStep,
		TotalSteps:  run.TotalSteps,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
}

func newMessageView(msg *backend.Message) MessageView {
	return MessageView{
		MessageID:  msg.ID,
		Level:      msg.Level,
		Message:    msg.Message,
		StepNumber: msg.StepNumber,
		Details:    msg.Details,
		CreatedAt:  msg.CreatedAt,
	}
}

// handleLaunch handles POST {prefix}/agents/{agentType}/run.
func (r *Router) handleLaunch(w http.ResponseWriter, req *http.Request) {
	userID, _ := auth.UserFromContext(req.Context())
	agentType := req.PathValue("agentType")
	if agentType == "" {
		writeError(w, http.StatusBadRequest, "Agent type is required")
		return
	}

	var body LaunchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body: input must be an object")
		return
	}

	run, err := r.runs.Launch(req.Context(), runner.LaunchRequest{
		UserID:   userID,
		TaskType: agentType,
		Input:    body.Input,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, LaunchResponse{
		RunID:     run.ID,
		Status:    run.Status,
		PollURL:   r.config.APIPrefix + "/agents/runs/" + run.ID,
		CreatedAt: run.CreatedAt,
	})
}

// handleGet handles GET {prefix}/agents/runs/{runId}.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	userID, _ := auth.UserFromContext(req.Context())
	runID, ok := parseRunID(w, req)
	if !ok {
		return
	}

	query := req.URL.Query()
	includeMessages := query.Get("includeMessages") == "true"

	var since *time.Time
	if raw := query.Get("messagesSince"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "messagesSince must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	run, err := r.runs.Get(req.Context(), runID, userID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	view := newRunView(run)
	if includeMessages {
		messages, err := r.runs.ListMessages(req.Context(), runID, since)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		view.Messages = make([]MessageView, 0, len(messages))
		for _, msg := range messages {
			view.Messages = append(view.Messages, newMessageView(msg))
		}
	}

	writeSuccess(w, http.StatusOK, view)
}

// handleCancel handles POST {prefix}/agents/runs/{runId}/cancel.
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	userID, _ := auth.UserFromContext(req.Context())
	runID, ok := parseRunID(w, req)
	if !ok {
		return
	}

	run, err := r.runs.RequestCancel(req.Context(), runID, userID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	writeSuccess(w, http.StatusOK, CancelResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: cancelMessage(run.Status),
	})
}

// handleList handles GET {prefix}/agents/runs.
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	userID, _ := auth.UserFromContext(req.Context())
	query := req.URL.Query()

	filter := backend.RunFilter{
		Status:   backend.RunStatus(query.Get("status")),
		TaskType: query.Get("agentType"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter: "+string(filter.Status))
		return
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	filter.Limit = runner.NormalizeLimit(filter.Limit)
	filter.Offset = max(filter.Offset, 0)

	runs, total, err := r.runs.List(req.Context(), userID, filter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	resp := ListResponse{
		Runs: make([]RunSummary, 0, len(runs)),
		Pagination: Pagination{
			Total:   total,
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: filter.Offset+len(runs) < total,
		},
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, newRunSummary(run))
	}

	writeSuccess(w, http.StatusOK, resp)
}

func parseRunID(w http.ResponseWriter, req *http.Request) (string, bool) {
	runID := req.PathValue("runId")
	if _, err := uuid.Parse(runID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run ID")
		return "", false
	}
	return runID, true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
