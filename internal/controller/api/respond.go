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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tombee/agentrun/internal/controller/runner"
	internallog "github.com/tombee/agentrun/internal/log"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// SuccessResponse wraps every successful API payload.
type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Status: "error", Message: message})
}

// writeServiceError maps run service errors onto HTTP statuses.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var (
		notFound   *agenterrors.NotFoundError
		validation *agenterrors.ValidationError
		transition *agenterrors.InvalidTransitionError
	)

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "Agent run not found")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, fmt.Sprintf(
			"Cannot cancel run with status '%s'. Only 'pending' or 'running' runs can be cancelled.", transition.From))
	case errors.Is(err, runner.ErrDraining):
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, "server is shutting down, not accepting new runs")
	default:
		r.logger.Error("request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error_type", agenterrors.TypeOf(err)),
			internallog.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
