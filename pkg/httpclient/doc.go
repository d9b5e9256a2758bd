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

// Package httpclient builds the *http.Client used to talk to agentrund.
//
// The client composes two transport layers over a pooled, TLS 1.2+ base
// transport:
//   - a request layer that sets User-Agent, assigns an X-Request-ID,
//     propagates the OpenTelemetry trace context and logs each attempt
//     with sensitive query parameters redacted
//   - a retry layer that retries idempotent requests on transport errors,
//     408, 429 and 5xx responses with exponential backoff and jitter,
//     honouring Retry-After
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "agentrun-cli/1.0"
//	client, err := httpclient.New(cfg)
package httpclient
