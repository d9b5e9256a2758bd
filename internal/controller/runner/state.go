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
	"github.com/tombee/agentrun/internal/controller/backend"
)

// transitions lists the statuses reachable from each status.
var transitions = map[backend.RunStatus][]backend.RunStatus{
	backend.StatusPending: {
		backend.StatusRunning,
		backend.StatusCancelRequested,
		backend.StatusFailed, // dispatch failed at launch
	},
	backend.StatusRunning: {
		backend.StatusCompleted,
		backend.StatusFailed,
		backend.StatusCancelRequested,
	},
	// A step already in flight when cancellation was requested may still
	// finish the pipeline or fail it.
	backend.StatusCancelRequested: {
		backend.StatusCancelled,
		backend.StatusCompleted,
		backend.StatusFailed,
	},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to backend.RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sources returns every status from which to is reachable. It is used as
// RunUpdate.IfStatus so that a status write is a validated compare-and-set.
func Sources(to backend.RunStatus) []backend.RunStatus {
	var from []backend.RunStatus
	for _, s := range backend.AllStatuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Cancellable reports whether a cancellation request may be accepted for a
// run in status s.
func Cancellable(s backend.RunStatus) bool {
	return CanTransition(s, backend.StatusCancelRequested)
}

// transitionTo builds a status update guarded by the transition table.
func transitionTo(to backend.RunStatus) backend.RunUpdate {
	return backend.RunUpdate{
		Status:   backend.Ptr(to),
		IfStatus: Sources(to),
	}
}
