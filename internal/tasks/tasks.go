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

// Package tasks provides the task types a worker can execute: the built-in
// simple task and pipelines declared in YAML files.
//
// All task types are registered by Setup before the worker pool claims its
// first job; the registry does not change afterwards.
package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/agentrun/internal/controller/runner"
	"github.com/tombee/agentrun/internal/llm"
	internallog "github.com/tombee/agentrun/internal/log"
)

// Deps are the collaborators shared by every task type.
type Deps struct {
	// LLM is the reasoning client used by llm steps.
	LLM llm.Client

	// Model overrides the client's default model when set.
	Model string

	// MaxTokens bounds each llm step's response. Zero uses DefaultMaxTokens.
	MaxTokens int
}

func (d Deps) maxTokens() int {
	if d.MaxTokens > 0 {
		return d.MaxTokens
	}
	return llm.DefaultMaxTokens
}

// RegisterBuiltins registers the task types compiled into the binary.
func RegisterBuiltins(reg *runner.Registry, deps Deps) {
	reg.Register(SimpleTaskType, SimpleFactory(deps))
}

// Setup registers the built-in task types and every declarative pipeline
// matched by patterns. A malformed file aborts setup.
func Setup(ctx context.Context, reg *runner.Registry, deps Deps, patterns []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = internallog.WithComponent(logger, "tasks")

	RegisterBuiltins(reg, deps)

	defs, err := LoadFiles(patterns)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.Name == SimpleTaskType {
			return fmt.Errorf("%s: task name %q is reserved", def.source, def.Name)
		}
		reg.Register(def.Name, def.Factory(deps))
		logger.Info("registered declarative task",
			slog.String(internallog.TaskTypeKey, def.Name),
			slog.String("file", def.source),
			slog.Int("steps", len(def.Steps)))
	}

	logger.Info("task registry ready", slog.Any("task_types", reg.Types()))
	return ctx.Err()
}
