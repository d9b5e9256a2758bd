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

package shared

import (
	"errors"
	"fmt"
	"os"

	"github.com/tombee/agentrun/internal/client"
)

// Exit codes for agentrun commands
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitUsage           = 2
	ExitRunFailed       = 3
	ExitUnauthorized    = 4
	ExitCancelled       = 130
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError creates an error for invalid arguments or flags
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg, Cause: cause}
}

// NewRunFailedError reports a run that finished failed or cancelled
func NewRunFailedError(msg string) *ExitError {
	return &ExitError{Code: ExitRunFailed, Message: msg}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if client.IsUnauthorized(err) {
		return ExitUnauthorized
	}
	return ExitExecutionFailed
}

// HandleExitError prints err with a suggestion where one applies and exits
// with the matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	if suggestion := Suggestion(err); suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", suggestion)
	}
	os.Exit(ExitCode(err))
}

// Suggestion returns a hint for common API failures.
func Suggestion(err error) string {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	switch apiErr.StatusCode {
	case 401:
		return "run 'agentrun login --token <token>' or set AGENTRUN_TOKEN"
	case 429:
		if apiErr.RetryAfter > 0 {
			return fmt.Sprintf("rate limited; retry in %s", apiErr.RetryAfter)
		}
	case 503:
		return "the server is draining or unhealthy; retry shortly"
	}
	return ""
}
