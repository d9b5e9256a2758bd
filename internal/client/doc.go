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

/*
Package client provides an HTTP client for the agentrun API.

CLI commands use it to launch runs, poll their status, request cancellation
and page through run history. Every run route requires a bearer token.

# Basic Usage

	c, err := client.New(
	    client.WithBaseURL("http://localhost:3000"),
	    client.WithToken(token),
	)
	if err != nil {
	    log.Fatal(err)
	}

	launched, err := c.Launch(ctx, "simple", map[string]any{"prompt": "hello"})

	run, err := c.WaitForRun(ctx, launched.RunID, time.Second, nil)

# Errors

Non-2xx responses are returned as [*APIError], carrying the status code and
the message from the error envelope. [IsNotFound] and [IsConflict] classify
the common cases.
*/
package client
