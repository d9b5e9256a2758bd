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
Package controller is the composition root of agentrund.

A Controller opens the configured run store and dispatch queue, then builds
the pieces its mode needs:

  - api: the run service and HTTP router (launch, status, list, cancel)
  - worker: the task registry, step pipeline executor and worker pool
  - all: both, sharing one store and queue in a single process

# Usage

	cfg, _ := config.Load(path)
	c, err := controller.New(cfg, controller.Options{Mode: config.ModeAll, Version: version})
	if err != nil {
	    log.Fatal(err)
	}

	go func() {
	    if err := c.Start(ctx); err != nil {
	        log.Fatal(err)
	    }
	}()

	<-ctx.Done()
	c.Shutdown(context.Background())

Shutdown refuses new launches, stops claiming jobs and waits up to the worker
drain timeout for executing runs before closing the server and the store.

# Subpackages

  - api: HTTP handlers for the run API
  - auth: bearer JWT validation and per-user rate limiting
  - backend: run and message persistence (memory, sqlite, postgres)
  - listener: TCP listener setup with optional TLS
  - middleware: CORS and request body limits
  - queue: job dispatch and claiming
  - runner: run state machine, task registry, executor and run service
  - worker: bounded pool that claims jobs and executes runs
*/
package controller
