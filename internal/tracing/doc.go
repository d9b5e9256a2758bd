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
Package tracing configures OpenTelemetry for agentrun.

Setup installs a global tracer provider that exports run and step spans
through OTLP (gRPC or HTTP) or to the console, and a meter provider whose
instruments are exposed on the Prometheus registry next to the
client_golang collectors:

	provider, err := tracing.Setup(ctx, tracing.Config{
	    Enabled:     true,
	    Exporter:    tracing.ExporterOTLP,
	    Endpoint:    "localhost:4317",
	    Insecure:    true,
	    ServiceName: "agentrun",
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

HTTPMiddleware joins incoming W3C trace context, opens a server span per
request and records request durations.
*/
package tracing
