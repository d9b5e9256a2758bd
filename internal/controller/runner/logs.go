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
	"log/slog"

	"github.com/tombee/agentrun/internal/controller/backend"
	internallog "github.com/tombee/agentrun/internal/log"
)

// RunLog appends messages to one run's message log and mirrors them to slog.
type RunLog struct {
	runID  string
	store  backend.MessageStore
	logger *slog.Logger
}

func newRunLog(runID string, store backend.MessageStore, logger *slog.Logger) *RunLog {
	return &RunLog{runID: runID, store: store, logger: logger}
}

// Add records a message at level. stepNumber may be nil for run-level events.
//
// The message log is diagnostic; a failed append is reported on slog and
// does not fail the run.
func (l *RunLog) Add(ctx context.Context, level backend.MessageLevel, stepNumber *int, message string, details map[string]any) {
	attrs := make([]any, 0, 2+len(details)*2)
	if stepNumber != nil {
		attrs = append(attrs, internallog.StepNumberKey, *stepNumber)
	}
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	l.logger.Log(ctx, slogLevel(level), message, attrs...)

	if l.store == nil {
		return
	}
	err := l.store.AppendMessage(ctx, &backend.Message{
		RunID:      l.runID,
		StepNumber: stepNumber,
		Level:      level,
		Message:    message,
		Details:    details,
	})
	if err != nil {
		l.logger.Warn("failed to append run message", internallog.Error(err))
	}
}

// Info records an info message.
func (l *RunLog) Info(ctx context.Context, stepNumber *int, message string, details map[string]any) {
	l.Add(ctx, backend.LevelInfo, stepNumber, message, details)
}

// Error records an error message.
func (l *RunLog) Error(ctx context.Context, stepNumber *int, message string, details map[string]any) {
	l.Add(ctx, backend.LevelError, stepNumber, message, details)
}

func slogLevel(level backend.MessageLevel) slog.Level {
	switch level {
	case backend.LevelDebug:
		return slog.LevelDebug
	case backend.LevelWarn:
		return slog.LevelWarn
	case backend.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
