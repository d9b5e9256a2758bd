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

// Package queue defines the dispatch gateway that hands runs to worker
// processes, and provides an in-memory implementation.
//
// The request layer only sees Dispatcher: it enqueues a run and may later try
// to withdraw the job before any worker has claimed it. Workers see Claimer:
// they claim jobs one at a time and report the outcome. A claimed job is never
// handed to a second worker, and jobs are attempted once.
//
// The SQL backends implement Queue with a job_queue table; MemoryQueue serves
// single-process deployments and tests.
package queue

import (
	"context"
	"time"
)

// Job status values.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobFailed  = "failed"
)

// Job is one scheduled execution of a run.
type Job struct {
	ID        string
	RunID     string
	Status    string
	Attempts  int
	LockedBy  string
	LockedAt  *time.Time
	LastError string
	CreatedAt time.Time
}

// Dispatcher schedules runs for out-of-process execution.
type Dispatcher interface {
	// Enqueue schedules a run and returns the job identifier.
	Enqueue(ctx context.Context, runID string) (string, error)

	// CancelIfUnclaimed removes the job if no worker has claimed it yet and
	// reports whether it did. An unknown job id is not an error.
	CancelIfUnclaimed(ctx context.Context, jobID string) (bool, error)
}

// Claimer is the worker side of the queue.
type Claimer interface {
	// Claim locks the oldest pending job for workerID. It returns nil, nil
	// when no job is available.
	Claim(ctx context.Context, workerID string) (*Job, error)

	// Complete removes a finished job.
	Complete(ctx context.Context, jobID string) error

	// Fail marks a job permanently failed with the given reason.
	Fail(ctx context.Context, jobID string, reason string) error
}

// Queue combines both sides of the dispatch gateway.
type Queue interface {
	Dispatcher
	Claimer
}

// Notifier is implemented by queues that can wake idle workers as soon as a
// job is enqueued instead of waiting for the next poll.
type Notifier interface {
	Ready() <-chan struct{}
}

// ErrQueueClosed is returned when operations are performed on a closed queue.
var ErrQueueClosed = &QueueError{message: "queue is closed"}

// QueueError represents a queue-related error.
type QueueError struct {
	message string
}

func (e *QueueError) Error() string {
	return e.message
}
