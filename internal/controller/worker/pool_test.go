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

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentrun/internal/controller/queue"
	internallog "github.com/tombee/agentrun/internal/log"
)

// stubExecutor records executed runs and optionally blocks until released.
type stubExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]bool
	release  chan struct{}

	running    atomic.Int32
	maxRunning atomic.Int32
	ctxErr     atomic.Value
}

func (s *stubExecutor) Execute(ctx context.Context, runID string) error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		m := s.maxRunning.Load()
		if n <= m || s.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	if s.release != nil {
		<-s.release
	}
	if err := ctx.Err(); err != nil {
		s.ctxErr.Store(err)
	}

	s.mu.Lock()
	s.executed = append(s.executed, runID)
	s.mu.Unlock()

	if s.fail[runID] {
		return errors.New("step exploded")
	}
	return nil
}

func (s *stubExecutor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}

func newTestPool(t *testing.T, q queue.Claimer, exec Executor, concurrency int) *Pool {
	t.Helper()
	p := New(Config{ID: "test-worker", Concurrency: concurrency, PollInterval: 10 * time.Millisecond}, q, exec, internallog.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, queue.NewMemoryQueue(), &stubExecutor{}, nil)

	assert.Equal(t, DefaultConcurrency, p.cfg.Concurrency)
	assert.Equal(t, DefaultPollInterval, p.cfg.PollInterval)
	assert.NotEmpty(t, p.ID())
}

func TestPool_CompletesAndFailsJobs(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{fail: map[string]bool{"run-bad": true}}
	ctx := context.Background()

	goodJob, err := q.Enqueue(ctx, "run-good")
	require.NoError(t, err)
	badJob, err := q.Enqueue(ctx, "run-bad")
	require.NoError(t, err)

	p := newTestPool(t, q, exec, 2)
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool { return exec.count() == 2 && p.ActiveCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	// Give the goroutines a moment to report the outcome to the queue.
	require.Eventually(t, func() bool {
		failed := q.Get(badJob)
		return q.Get(goodJob) == nil && failed != nil && failed.Status == queue.JobFailed
	}, time.Second, 10*time.Millisecond)

	failed := q.Get(badJob)
	assert.Equal(t, "step exploded", failed.LastError)
	assert.Equal(t, "test-worker", failed.LockedBy)
}

func TestPool_RespectsConcurrency(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{release: make(chan struct{})}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, "run")
		require.NoError(t, err)
	}

	p := newTestPool(t, q, exec, 2)
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool { return p.ActiveCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, q.Len(), "jobs beyond the concurrency limit stay pending")

	close(exec.release)
	require.Eventually(t, func() bool { return exec.count() == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, exec.maxRunning.Load(), int32(2))
}

func TestPool_WakesOnEnqueue(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{}
	ctx := context.Background()

	p := New(Config{ID: "w", Concurrency: 1, PollInterval: time.Hour}, q, exec, internallog.Discard())
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	_, err := q.Enqueue(ctx, "run-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPool_StartTwice(t *testing.T) {
	p := newTestPool(t, queue.NewMemoryQueue(), &stubExecutor{}, 1)
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))
}

func TestPool_DrainingStopsClaiming(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{}
	ctx := context.Background()

	p := newTestPool(t, q, exec, 1)
	p.StartDraining()
	assert.True(t, p.IsDraining())
	require.NoError(t, p.Start(ctx))

	_, err := q.Enqueue(ctx, "run-1")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, exec.count())
	assert.Equal(t, 1, q.Len())
	assert.NoError(t, p.WaitForDrain(ctx, time.Second))
}

func TestPool_WaitForDrainTimeout(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{release: make(chan struct{})}
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1")
	require.NoError(t, err)

	p := newTestPool(t, q, exec, 1)
	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool { return p.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	p.StartDraining()
	err = p.WaitForDrain(ctx, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain timeout")

	close(exec.release)
	assert.NoError(t, p.WaitForDrain(ctx, time.Second))
}

func TestPool_StopDoesNotCancelExecutingRuns(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{release: make(chan struct{})}

	_, err := q.Enqueue(context.Background(), "run-1")
	require.NoError(t, err)

	startCtx, cancelStart := context.WithCancel(context.Background())
	p := New(Config{ID: "w", Concurrency: 1, PollInterval: 10 * time.Millisecond}, q, exec, internallog.Discard())
	require.NoError(t, p.Start(startCtx))
	require.Eventually(t, func() bool { return p.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	cancelStart()
	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still executing")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.release)
	require.NoError(t, <-stopped)
	assert.Nil(t, exec.ctxErr.Load(), "execution context must survive shutdown")
	assert.Equal(t, 1, exec.count())
}

func TestPool_StopHonoursContext(t *testing.T) {
	q := queue.NewMemoryQueue()
	exec := &stubExecutor{release: make(chan struct{})}
	defer close(exec.release)

	_, err := q.Enqueue(context.Background(), "run-1")
	require.NoError(t, err)

	p := New(Config{ID: "w", Concurrency: 1, PollInterval: 10 * time.Millisecond}, q, exec, internallog.Discard())
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
