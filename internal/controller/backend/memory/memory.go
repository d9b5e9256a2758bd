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

// Package memory provides an in-memory backend implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/agentrun/internal/controller/backend"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ backend.RunStore     = (*Backend)(nil)
	_ backend.RunLister    = (*Backend)(nil)
	_ backend.MessageStore = (*Backend)(nil)
	_ backend.Pinger       = (*Backend)(nil)
	_ backend.Backend      = (*Backend)(nil)
	_ backend.AccountStore = (*Backend)(nil)
)

// Backend is an in-memory storage backend. Runs are stored as private copies;
// callers never share memory with the store.
type Backend struct {
	mu       sync.RWMutex
	runs     map[string]*backend.Run
	messages map[string][]*backend.Message
	users    map[string]*backend.User
	tokens   map[string]*backend.RefreshToken
	now      func() time.Time
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		runs:     make(map[string]*backend.Run),
		messages: make(map[string][]*backend.Message),
		users:    make(map[string]*backend.User),
		tokens:   make(map[string]*backend.RefreshToken),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun creates a new run.
func (b *Backend) CreateRun(ctx context.Context, run *backend.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}

	run.CreatedAt = b.now()
	run.UpdatedAt = run.CreatedAt
	b.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*backend.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, exists := b.runs[id]
	if !exists {
		return nil, &agenterrors.NotFoundError{Resource: "run", ID: id}
	}
	return run.Clone(), nil
}

// UpdateRun applies a partial update to an existing run.
func (b *Backend) UpdateRun(ctx context.Context, id string, update backend.RunUpdate) (*backend.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, exists := b.runs[id]
	if !exists {
		return nil, &agenterrors.NotFoundError{Resource: "run", ID: id}
	}
	if !update.Allows(run.Status) {
		return nil, &agenterrors.InvalidTransitionError{
			RunID: id,
			From:  string(run.Status),
			To:    string(update.Target()),
		}
	}

	update.Apply(run)
	run.UpdatedAt = b.now()
	return run.Clone(), nil
}

// ListRuns lists runs with optional filtering, newest first.
func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*backend.Run, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*backend.Run
	for _, run := range b.runs {
		if filter.UserID != "" && run.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.TaskType != "" && run.TaskType != filter.TaskType {
			continue
		}
		matched = append(matched, run)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	result := make([]*backend.Run, 0, end-start)
	for _, run := range matched[start:end] {
		result = append(result, run.Clone())
	}
	return result, total, nil
}

// AppendMessage appends a message to a run's log.
func (b *Backend) AppendMessage(ctx context.Context, msg *backend.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[msg.RunID]; !exists {
		return &agenterrors.NotFoundError{Resource: "run", ID: msg.RunID}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.now()
	}

	stored := *msg
	b.messages[msg.RunID] = append(b.messages[msg.RunID], &stored)
	return nil
}

// ListMessages returns messages created strictly after since, oldest first.
func (b *Backend) ListMessages(ctx context.Context, runID string, since *time.Time) ([]*backend.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*backend.Message
	for _, msg := range b.messages[runID] {
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		c := *msg
		result = append(result, &c)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Ping always succeeds.
func (b *Backend) Ping(ctx context.Context) error {
	return nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return nil
}
