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

// Package backendtest holds behaviour checks shared by every backend.Backend
// implementation. Each backend's own tests call Run with a constructor.
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentrun/internal/controller/backend"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) backend.Backend

// Run executes the shared backend checks.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newBackend(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newBackend(t)) })
	t.Run("PartialUpdate", func(t *testing.T) { testPartialUpdate(t, newBackend(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newBackend(t)) })
	t.Run("ConcurrentConditionalUpdate", func(t *testing.T) { testConcurrentConditionalUpdate(t, newBackend(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newBackend(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newBackend(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, accountStore(t, newBackend(t))) })
	t.Run("RefreshTokens", func(t *testing.T) { testRefreshTokens(t, accountStore(t, newBackend(t))) })
}

func accountStore(t *testing.T, be backend.Backend) backend.AccountStore {
	t.Helper()
	t.Cleanup(func() { be.Close() })
	store, ok := be.(backend.AccountStore)
	if !ok {
		t.Skip("backend does not store accounts")
	}
	return store
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	var notFound *agenterrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func testUsers(t *testing.T, store backend.AccountStore) {
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		u := &backend.User{
			ID:           fmt.Sprintf("user-%d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: "hash",
			FirstName:    "Ada",
			Active:       true,
		}
		require.NoError(t, store.CreateUser(ctx, u))
		assert.False(t, u.CreatedAt.IsZero(), "CreatedAt stamped on create")
		time.Sleep(2 * time.Millisecond)
	}

	got, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user1@example.com", got.Email)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Empty(t, got.LastName)
	assert.True(t, got.Active)

	byEmail, err := store.GetUserByEmail(ctx, "USER2@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-2", byEmail.ID)

	err = store.CreateUser(ctx, &backend.User{ID: "user-4", Email: "User1@Example.com", PasswordHash: "x", Active: true})
	var conflict *agenterrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "User with this email already exists", conflict.Error())

	_, err = store.GetUser(ctx, "missing")
	assertNotFound(t, err)
	_, err = store.GetUserByEmail(ctx, "missing@example.com")
	assertNotFound(t, err)

	page, err := store.ListUsers(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "user-3", page[0].ID, "newest first")
	assert.Equal(t, "user-2", page[1].ID)

	rest, err := store.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "user-1", rest[0].ID)
}

func testRefreshTokens(t *testing.T, store backend.AccountStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &backend.User{
		ID: "user-1", Email: "a@example.com", PasswordHash: "hash", Active: true,
	}))

	now := time.Now().UTC()
	live := &backend.RefreshToken{Token: "live", UserID: "user-1", ExpiresAt: now.Add(time.Hour)}
	stale := &backend.RefreshToken{Token: "stale", UserID: "user-1", ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, store.CreateRefreshToken(ctx, live))
	require.NoError(t, store.CreateRefreshToken(ctx, stale))

	got, err := store.GetRefreshToken(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.WithinDuration(t, live.ExpiresAt, got.ExpiresAt, time.Millisecond)

	_, err = store.GetRefreshToken(ctx, "unknown")
	assertNotFound(t, err)

	n, err := store.DeleteExpiredRefreshTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.GetRefreshToken(ctx, "stale")
	assertNotFound(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.DeleteRefreshToken(ctx, "live")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, removed, "exactly one delete wins")
}

// NewRun returns a pending run for userID with a deterministic ID.
func NewRun(id, userID string) *backend.Run {
	return &backend.Run{
		ID:           id,
		UserID:       userID,
		TaskType:     "simple",
		AgentVersion: "1.0.0",
		Status:       backend.StatusPending,
		Input:        map[string]any{"prompt": "hello"},
		MaxRetries:   3,
	}
}

func testCreateAndGet(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	run := NewRun("run-1", "user-1")
	require.NoError(t, be.CreateRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero(), "CreatedAt stamped on create")

	got, err := be.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "simple", got.TaskType)
	assert.Equal(t, "1.0.0", got.AgentVersion)
	assert.Equal(t, backend.StatusPending, got.Status)
	assert.Equal(t, "hello", got.Input["prompt"])
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, 0, got.CurrentStep)
	assert.Nil(t, got.TotalSteps)
	assert.Nil(t, got.Output)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func testGetMissing(t *testing.T, be backend.Backend) {
	defer be.Close()

	_, err := be.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterrors.ErrRunNotFound)

	_, err = be.UpdateRun(context.Background(), "nope", backend.RunUpdate{CurrentStep: backend.Ptr(1)})
	assert.ErrorIs(t, err, agenterrors.ErrRunNotFound)
}

func testPartialUpdate(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()
	require.NoError(t, be.CreateRun(ctx, NewRun("run-1", "user-1")))

	started := time.Now().UTC()
	updated, err := be.UpdateRun(ctx, "run-1", backend.RunUpdate{
		Status:    backend.Ptr(backend.StatusRunning),
		StartedAt: &started,
	})
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, updated.Status)
	require.NotNil(t, updated.StartedAt)
	assert.WithinDuration(t, started, *updated.StartedAt, time.Millisecond)

	// A progress write leaves the status alone.
	_, err = be.UpdateRun(ctx, "run-1", backend.RunUpdate{TotalSteps: backend.Ptr(2), CurrentStep: backend.Ptr(1)})
	require.NoError(t, err)

	got, err := be.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	require.NotNil(t, got.TotalSteps)
	assert.Equal(t, 2, *got.TotalSteps)

	_, err = be.UpdateRun(ctx, "run-1", backend.RunUpdate{
		Status:       backend.Ptr(backend.StatusFailed),
		ErrorMessage: backend.Ptr("boom"),
		Output:       map[string]any{"text": "partial"},
	})
	require.NoError(t, err)

	got, err = be.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Equal(t, map[string]any{"text": "partial"}, got.Output)
	assert.Equal(t, "hello", got.Input["prompt"], "input untouched by updates")
}

func testConditionalUpdate(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()
	require.NoError(t, be.CreateRun(ctx, NewRun("run-1", "user-1")))

	_, err := be.UpdateRun(ctx, "run-1", backend.RunUpdate{
		Status:   backend.Ptr(backend.StatusCancelRequested),
		IfStatus: []backend.RunStatus{backend.StatusPending, backend.StatusRunning},
	})
	require.NoError(t, err)

	_, err = be.UpdateRun(ctx, "run-1", backend.RunUpdate{
		Status:   backend.Ptr(backend.StatusRunning),
		IfStatus: []backend.RunStatus{backend.StatusPending},
	})
	var transition *agenterrors.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "cancel_requested", transition.From)
	assert.Equal(t, "running", transition.To)

	got, err := be.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCancelRequested, got.Status, "rejected update wrote nothing")
}

func testConcurrentConditionalUpdate(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()
	require.NoError(t, be.CreateRun(ctx, NewRun("run-1", "user-1")))

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := be.UpdateRun(ctx, "run-1", backend.RunUpdate{
				Status:   backend.Ptr(backend.StatusRunning),
				IfStatus: []backend.RunStatus{backend.StatusPending},
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one compare-and-set succeeds")
}

func testListRuns(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, be.CreateRun(ctx, NewRun(fmt.Sprintf("run-%d", i), "user-1")))
		time.Sleep(2 * time.Millisecond)
	}
	other := NewRun("other", "user-2")
	other.TaskType = "pipeline"
	require.NoError(t, be.CreateRun(ctx, other))

	runs, total, err := be.ListRuns(ctx, backend.RunFilter{UserID: "user-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-4", runs[0].ID, "newest first")
	assert.Equal(t, "run-3", runs[1].ID)

	runs, total, err = be.ListRuns(ctx, backend.RunFilter{UserID: "user-1", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-0", runs[0].ID)

	runs, total, err = be.ListRuns(ctx, backend.RunFilter{TaskType: "pipeline"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, "other", runs[0].ID)

	_, err = be.UpdateRun(ctx, "run-2", backend.RunUpdate{Status: backend.Ptr(backend.StatusCompleted)})
	require.NoError(t, err)
	runs, total, err = be.ListRuns(ctx, backend.RunFilter{UserID: "user-1", Status: backend.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
}

func testMessages(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()
	require.NoError(t, be.CreateRun(ctx, NewRun("run-1", "user-1")))

	first := &backend.Message{RunID: "run-1", Level: backend.LevelInfo, Message: "Agent run started"}
	require.NoError(t, be.AppendMessage(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, be.AppendMessage(ctx, &backend.Message{
		RunID:      "run-1",
		StepNumber: backend.Ptr(1),
		Level:      backend.LevelInfo,
		Message:    "Starting step: llm_call",
		Details:    map[string]any{"step": "llm_call"},
	}))

	all, err := be.ListMessages(ctx, "run-1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Agent run started", all[0].Message)
	assert.Nil(t, all[0].StepNumber)
	assert.Equal(t, "Starting step: llm_call", all[1].Message)
	require.NotNil(t, all[1].StepNumber)
	assert.Equal(t, 1, *all[1].StepNumber)
	assert.Equal(t, "llm_call", all[1].Details["step"])

	since := all[0].CreatedAt
	after, err := be.ListMessages(ctx, "run-1", &since)
	require.NoError(t, err)
	require.Len(t, after, 1, "since is exclusive")
	assert.Equal(t, "Starting step: llm_call", after[0].Message)

	none, err := be.ListMessages(ctx, "other-run", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
