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

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ Queue    = (*MemoryQueue)(nil)
	_ Notifier = (*MemoryQueue)(nil)
)

// MemoryQueue is an in-memory queue implementation. Jobs are claimed in
// enqueue order.
type MemoryQueue struct {
	mu     sync.Mutex
	order  []string
	jobs   map[string]*Job
	signal chan struct{}
	closed bool
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(map[string]*Job),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job for runID to the queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, runID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	job := &Job{
		ID:        uuid.NewString(),
		RunID:     runID,
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return job.ID, nil
}

// CancelIfUnclaimed removes a pending job.
func (q *MemoryQueue) CancelIfUnclaimed(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.LockedAt != nil {
		return false, nil
	}
	q.remove(jobID)
	return true, nil
}

// Claim locks the oldest pending job.
func (q *MemoryQueue) Claim(ctx context.Context, workerID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != JobPending {
			continue
		}
		now := time.Now().UTC()
		job.Status = JobRunning
		job.LockedBy = workerID
		job.LockedAt = &now
		job.Attempts++
		c := *job
		return &c, nil
	}
	return nil, nil
}

// Complete removes a finished job.
func (q *MemoryQueue) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(jobID)
	return nil
}

// Fail keeps the job with status failed so it is never claimed again.
func (q *MemoryQueue) Fail(ctx context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.jobs[jobID]; ok {
		job.Status = JobFailed
		job.LastError = reason
	}
	return nil
}

// Get returns a copy of a job, or nil if it no longer exists.
func (q *MemoryQueue) Get(jobID string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	c := *job
	return &c
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, job := range q.jobs {
		if job.Status == JobPending {
			n++
		}
	}
	return n
}

// Ready is signalled after each Enqueue.
func (q *MemoryQueue) Ready() <-chan struct{} {
	return q.signal
}

// Close closes the queue. Further Enqueue and Claim calls fail.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}

// remove must be called with q.mu held.
func (q *MemoryQueue) remove(jobID string) {
	delete(q.jobs, jobID)
	for i, id := range q.order {
		if id == jobID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
