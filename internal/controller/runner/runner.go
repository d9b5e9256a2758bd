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
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/metrics"
	"github.com/tombee/agentrun/internal/controller/queue"
	internallog "github.com/tombee/agentrun/internal/log"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

const (
	// AgentVersion is stamped on every launched run.
	AgentVersion = "1.0.0"

	// DefaultMaxRetries is recorded on every launched run. It is not acted on.
	DefaultMaxRetries = 3

	// DefaultListLimit and MaxListLimit bound List page sizes.
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ErrDraining is returned by Launch while the service is shutting down.
var ErrDraining = errors.New("service is draining, not accepting new runs")

// LaunchRequest contains the parameters for launching a run.
type LaunchRequest struct {
	UserID   string
	TaskType string
	Input    map[string]any
}

// Service implements the run operations used by the request layer: launch,
// poll, list and cancellation requests. It never executes runs itself.
type Service struct {
	store      backend.Backend
	dispatcher queue.Dispatcher

	logger *slog.Logger
	now    func() time.Time

	// draining indicates the service is in graceful shutdown mode
	draining atomic.Bool
}

// NewService creates a Service.
func NewService(store backend.Backend, dispatcher queue.Dispatcher, opts ...Option) *Service {
	o := applyOptions(opts)
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     internallog.WithComponent(o.logger, "runs"),
		now:        o.now,
	}
}

// Launch creates a pending run and hands it to the dispatcher.
//
// The task type is not checked against the registry; an unknown type fails
// the run when a worker executes it. If the dispatcher rejects the job the
// run is recorded as failed and the error is returned.
func (s *Service) Launch(ctx context.Context, req LaunchRequest) (*backend.Run, error) {
	if s.draining.Load() {
		return nil, ErrDraining
	}
	if req.UserID == "" {
		return nil, &agenterrors.ValidationError{Field: "userId", Message: "user id is required"}
	}
	if req.TaskType == "" {
		return nil, &agenterrors.ValidationError{Field: "agentType", Message: "agent type is required"}
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	run := &backend.Run{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		TaskType:     req.TaskType,
		AgentVersion: AgentVersion,
		Status:       backend.StatusPending,
		Input:        input,
		CurrentStep:  0,
		MaxRetries:   DefaultMaxRetries,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, metrics.ObservePersistence("CreateRun", agenterrors.Persistence("CreateRun", err))
	}

	logger := internallog.WithRunContext(s.logger, run.ID, run.TaskType).With(slog.String(internallog.UserIDKey, run.UserID))

	jobID, err := s.dispatcher.Enqueue(ctx, run.ID)
	if err != nil {
		logger.Error("failed to enqueue run", internallog.Error(err))
		message := "failed to dispatch run: " + err.Error()
		update := transitionTo(backend.StatusFailed)
		update.ErrorMessage = &message
		update.CompletedAt = backend.Ptr(s.now())
		if _, updateErr := s.store.UpdateRun(ctx, run.ID, update); updateErr != nil {
			return nil, errors.Join(err, updateErr)
		}
		return nil, agenterrors.Wrap(err, "failed to dispatch run")
	}

	updated, err := s.store.UpdateRun(ctx, run.ID, backend.RunUpdate{DispatchJobID: &jobID})
	if err != nil {
		return nil, metrics.ObservePersistence("UpdateRun", agenterrors.Persistence("UpdateRun", err))
	}

	runsLaunched.WithLabelValues(run.TaskType).Inc()
	logger.Info("run launched", slog.String(internallog.JobIDKey, jobID))
	return updated, nil
}

// Get returns the run if it belongs to userID. Runs owned by other users are
// reported as not found.
func (s *Service) Get(ctx context.Context, runID, userID string) (*backend.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, &agenterrors.NotFoundError{Resource: "run", ID: runID}
	}
	return run, nil
}

// ListMessages returns the run's messages created strictly after since,
// oldest first. Ownership is checked by the caller through Get.
func (s *Service) ListMessages(ctx context.Context, runID string, since *time.Time) ([]*backend.Message, error) {
	return s.store.ListMessages(ctx, runID, since)
}

// RequestCancel flips a pending or running run to cancel_requested.
//
// The write is conditional on the status read here, so a run that reached a
// terminal status in the meantime is rejected with *errors.InvalidTransitionError.
// For a pending run whose job no worker has claimed yet, the job is removed
// and the run is finalized as cancelled immediately.
func (s *Service) RequestCancel(ctx context.Context, runID, userID string) (*backend.Run, error) {
	run, err := s.Get(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	if !Cancellable(run.Status) {
		return nil, &agenterrors.InvalidTransitionError{
			RunID: runID,
			From:  string(run.Status),
			To:    string(backend.StatusCancelRequested),
		}
	}

	updated, err := s.store.UpdateRun(ctx, runID, transitionTo(backend.StatusCancelRequested))
	if err != nil {
		return nil, err
	}

	logger := internallog.WithRunContext(s.logger, run.ID, run.TaskType)
	logger.Info("cancellation requested", slog.String("previous_status", string(run.Status)))

	if run.Status != backend.StatusPending || run.DispatchJobID == "" {
		return updated, nil
	}

	removed, err := s.dispatcher.CancelIfUnclaimed(ctx, run.DispatchJobID)
	if err != nil {
		// The executor's entry check still cancels the run when it is claimed.
		logger.Warn("failed to remove pending job", internallog.Error(err), slog.String(internallog.JobIDKey, run.DispatchJobID))
		return updated, nil
	}
	if !removed {
		return updated, nil
	}

	// No worker will ever see this run, so resolve the request here.
	update := transitionTo(backend.StatusCancelled)
	update.CompletedAt = backend.Ptr(s.now())
	cancelled, err := s.store.UpdateRun(ctx, runID, update)
	if err != nil {
		logger.Warn("failed to finalize cancelled run", internallog.Error(err))
		return updated, nil
	}
	newRunLog(runID, s.store, logger).Info(ctx, nil, "Run cancelled by user request", nil)
	recordRunOutcome(run.TaskType, string(backend.StatusCancelled))
	return cancelled, nil
}

// List returns one page of userID's runs, newest first, and the total number
// of matching runs.
func (s *Service) List(ctx context.Context, userID string, filter backend.RunFilter) ([]*backend.Run, int, error) {
	filter.UserID = userID
	filter.Limit = NormalizeLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListRuns(ctx, filter)
}

// NormalizeLimit applies the default and maximum page size.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// Ping reports the store's health when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(backend.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// StartDraining stops Launch from accepting new runs.
func (s *Service) StartDraining() {
	s.draining.Store(true)
}

// IsDraining returns true if the service is in draining mode.
func (s *Service) IsDraining() bool {
	return s.draining.Load()
}
