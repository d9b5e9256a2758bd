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

package config

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/tombee/agentrun/internal/commands/shared"
	"github.com/tombee/agentrun/internal/config"
	"github.com/tombee/agentrun/internal/tasks"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Path     string   `json:"path,omitempty"`
	Mode     string   `json:"mode"`
	Valid    bool     `json:"valid"`
	Tasks    []string `json:"tasks,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var (
		mode   string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration for a process mode",
		Long: `Validate the configuration agentrund would load in the given mode.

Checks performed:
  - YAML syntax and field values
  - Mode requirements (JWT secret, shared backend, LLM credentials)
  - Declarative task files parse and have unique names

With --strict, warnings are treated as errors.`,
		Example: `  agentrun config validate
  agentrun config validate --mode worker --strict
  agentrun config validate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := validate(config.ResolvePath(shared.GetConfigPath()), mode)
			return outputValidationResult(cmd, result, strict)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", config.ModeAll, "Process mode to validate for (api, worker, all)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func validate(path, mode string) ValidationResult {
	result := ValidationResult{Path: path, Mode: mode}

	cfg, err := config.Load(path)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if err := cfg.ValidateMode(mode); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	if mode != config.ModeAPI {
		defs, err := tasks.LoadFiles(cfg.Tasks.Files)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("task definitions: %v", err))
		}
		for _, d := range defs {
			result.Tasks = append(result.Tasks, d.Name)
		}
	}

	result.Warnings = warnings(cfg, mode)
	result.Valid = len(result.Errors) == 0
	return result
}

func warnings(cfg *config.Config, mode string) []string {
	var w []string
	if cfg.Backend.Type == config.BackendMemory {
		w = append(w, "backend.type is memory; runs are lost when agentrund stops")
	}
	if mode != config.ModeWorker {
		if !cfg.RateLimit.IsEnabled() {
			w = append(w, "rate limiting is disabled")
		}
		if cfg.Server.TLSCertFile == "" && !isLoopback(cfg.Server.Host) {
			w = append(w, "the API serves plain HTTP on a non-loopback address; put it behind a TLS proxy or set server.tls_cert_file")
		}
	}
	if mode != config.ModeAPI && cfg.LLM.Provider == "mock" {
		w = append(w, "llm.provider is mock; llm steps echo their prompt")
	}
	return w
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func outputValidationResult(cmd *cobra.Command, result ValidationResult, strict bool) error {
	if strict && len(result.Warnings) > 0 {
		result.Valid = false
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, result); err != nil {
			return err
		}
	} else {
		for _, e := range result.Errors {
			fmt.Fprintln(out, shared.RenderError(e))
		}
		for _, warn := range result.Warnings {
			fmt.Fprintln(out, shared.RenderWarn(warn))
		}
		if len(result.Tasks) > 0 {
			fmt.Fprintf(out, "%s %d loaded\n", shared.RenderLabel("Task definitions:"), len(result.Tasks))
		}
		if result.Valid {
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Configuration is valid for mode %s", result.Mode)))
		}
	}

	if !result.Valid {
		return &shared.ExitError{Code: shared.ExitExecutionFailed, Message: "configuration is invalid"}
	}
	return nil
}
