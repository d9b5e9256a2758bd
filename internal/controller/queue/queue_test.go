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
	"errors"
	"testing"
)

// exercises a Queue through its interfaces only
func TestQueue_JobLifecycle(t *testing.T) {
	tests := []struct {
		name        string
		finish      func(ctx context.Context, q Queue, jobID string) error
		wantPending int
	}{
		{
			name:        "completed job is gone",
			finish:      func(ctx context.Context, q Queue, id string) error { return q.Complete(ctx, id) },
			wantPending: 0,
		},
		{
			name:        "failed job is not reclaimed",
			finish:      func(ctx context.Context, q Queue, id string) error { return q.Fail(ctx, id, "exit 1") },
			wantPending: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mq := NewMemoryQueue()
			var q Queue = mq

			id, err := q.Enqueue(ctx, "run-1")
			if err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			job, err := q.Claim(ctx, "worker-1")
			if err != nil || job == nil {
				t.Fatalf("Claim() = %v, %v", job, err)
			}
			if job.ID != id {
				t.Errorf("claimed job %s, want %s", job.ID, id)
			}

			if err := tt.finish(ctx, q, id); err != nil {
				t.Fatalf("finish error = %v", err)
			}
			if got := mq.Len(); got != tt.wantPending {
				t.Errorf("Len() = %d, want %d", got, tt.wantPending)
			}

			again, err := q.Claim(ctx, "worker-2")
			if err != nil {
				t.Fatalf("second Claim() error = %v", err)
			}
			if again != nil {
				t.Errorf("second Claim() = %+v, want nil", again)
			}
		})
	}
}

func TestQueue_CancelledJobIsNeverClaimed(t *testing.T) {
	ctx := context.Background()
	var q Queue = NewMemoryQueue()

	id, err := q.Enqueue(ctx, "run-1")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	removed, err := q.CancelIfUnclaimed(ctx, id)
	if err != nil || !removed {
		t.Fatalf("CancelIfUnclaimed() = %v, %v", removed, err)
	}
	removed, err = q.CancelIfUnclaimed(ctx, id)
	if err != nil || removed {
		t.Errorf("second CancelIfUnclaimed() = %v, %v, want false", removed, err)
	}

	job, err := q.Claim(ctx, "w")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if job != nil {
		t.Errorf("Claim() = %+v, want nil", job)
	}
}

func TestQueue_ClaimReturnsCopy(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	id, _ := q.Enqueue(ctx, "run-1")
	job, err := q.Claim(ctx, "w")
	if err != nil || job == nil {
		t.Fatalf("Claim() = %v, %v", job, err)
	}
	job.Status = JobPending
	job.LockedBy = "someone-else"

	stored := q.Get(id)
	if stored.Status != JobRunning || stored.LockedBy != "w" {
		t.Errorf("stored job = %+v, want running locked by w", stored)
	}
}

func TestQueue_CompleteUnknownJob(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Complete(context.Background(), "missing"); err != nil {
		t.Errorf("Complete() error = %v", err)
	}
	if err := q.Fail(context.Background(), "missing", "x"); err != nil {
		t.Errorf("Fail() error = %v", err)
	}
}

func TestQueueError(t *testing.T) {
	var qerr *QueueError
	if !errors.As(ErrQueueClosed, &qerr) {
		t.Fatal("ErrQueueClosed should be a *QueueError")
	}
	if got := ErrQueueClosed.Error(); got != "queue is closed" {
		t.Errorf("Error() = %q", got)
	}
}
