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

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Launch starts a run of agentType with the given input.
func (c *Client) Launch(ctx context.Context, agentType string, input map[string]any) (*LaunchResponse, error) {
	if agentType == "" {
		return nil, fmt.Errorf("agent type is required")
	}
	if input == nil {
		input = map[string]any{}
	}

	var out LaunchResponse
	path := "/agents/" + url.PathEscape(agentType) + "/run"
	if err := c.call(ctx, http.MethodPost, path, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRunOptions selects the optional parts of a run view.
type GetRunOptions struct {
	IncludeMessages bool

	// MessagesSince limits messages to those created strictly after it.
	MessagesSince time.Time
}

// GetRun returns a run owned by the caller.
func (c *Client) GetRun(ctx context.Context, runID string, opts GetRunOptions) (*Run, error) {
	q := url.Values{}
	if opts.IncludeMessages {
		q.Set("includeMessages", "true")
		if !opts.MessagesSince.IsZero() {
			q.Set("messagesSince", opts.MessagesSince.UTC().Format(time.RFC3339Nano))
		}
	}

	path := "/agents/runs/" + url.PathEscape(runID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out Run
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelRun requests cooperative cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, runID string) (*CancelResponse, error) {
	var out CancelResponse
	if err := c.call(ctx, http.MethodPost, "/agents/runs/"+url.PathEscape(runID)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRunsRequest filters a run listing. Zero values are omitted.
type ListRunsRequest struct {
	Status    string
	AgentType string
	Limit     int
	Offset    int
}

// ListRuns returns a page of the caller's runs, newest first.
func (c *Client) ListRuns(ctx context.Context, req ListRunsRequest) (*ListResponse, error) {
	q := url.Values{}
	if req.Status != "" {
		q.Set("status", req.Status)
	}
	if req.AgentType != "" {
		q.Set("agentType", req.AgentType)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	path := "/agents/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out ListResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForRun polls a run until it reaches a terminal status or ctx ends.
// onUpdate, when set, is called with each polled view, including messages
// that arrived since the previous poll.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration, onUpdate func(*Run)) (*Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var since time.Time
	for {
		run, err := c.GetRun(ctx, runID, GetRunOptions{IncludeMessages: true, MessagesSince: since})
		if err != nil {
			return nil, err
		}
		if n := len(run.Messages); n > 0 {
			since = run.Messages[n-1].CreatedAt
		}
		if onUpdate != nil {
			onUpdate(run)
		}
		if IsTerminal(run.Status) {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
