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
	"fmt"
	"testing"
)

func BenchmarkEnqueue(b *testing.B) {
	q := NewMemoryQueue()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := q.Enqueue(ctx, "run"); err != nil {
			b.Fatalf("enqueue failed: %v", err)
		}
	}
}

// BenchmarkClaimComplete measures one worker cycle with a standing backlog.
func BenchmarkClaimComplete(b *testing.B) {
	for _, backlog := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("backlog_%d", backlog), func(b *testing.B) {
			q := NewMemoryQueue()
			ctx := context.Background()
			for i := 0; i < backlog; i++ {
				if _, err := q.Enqueue(ctx, fmt.Sprintf("run-%d", i)); err != nil {
					b.Fatalf("failed to pre-fill queue: %v", err)
				}
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				job, err := q.Claim(ctx, "bench")
				if err != nil || job == nil {
					b.Fatalf("claim failed: %v", err)
				}
				if err := q.Complete(ctx, job.ID); err != nil {
					b.Fatalf("complete failed: %v", err)
				}
				// keep the backlog constant
				if _, err := q.Enqueue(ctx, job.RunID); err != nil {
					b.Fatalf("enqueue failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkClaim_Parallel(b *testing.B) {
	q := NewMemoryQueue()
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := q.Enqueue(ctx, "run"); err != nil {
				b.Errorf("enqueue failed: %v", err)
				return
			}
			job, err := q.Claim(ctx, "bench")
			if err != nil {
				b.Errorf("claim failed: %v", err)
				return
			}
			if job != nil {
				_ = q.Complete(ctx, job.ID)
			}
		}
	})
}
