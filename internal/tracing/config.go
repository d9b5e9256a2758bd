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

package tracing

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Supported span exporters.
const (
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
	ExporterConsole  = "console"
)

// Config configures Setup.
type Config struct {
	// Enabled turns span export on. Metrics are set up either way.
	Enabled bool

	// Exporter is otlp, otlp-http or console.
	Exporter string

	// Endpoint is host:port or a full URL for the OTLP exporters.
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// Headers are sent with every export request.
	Headers map[string]string

	ServiceName    string
	ServiceVersion string

	// SampleRate is the fraction of new traces kept. Zero keeps all of them.
	SampleRate float64

	// ConsoleWriter receives console spans. Defaults to stdout.
	ConsoleWriter io.Writer

	// Registerer receives the OTel metrics collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultConfig returns tracing disabled with agentrun's service name.
func DefaultConfig() Config {
	return Config{
		Exporter:    ExporterOTLP,
		ServiceName: "agentrun",
		SampleRate:  1.0,
	}
}
