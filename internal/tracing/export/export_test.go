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

package export

import (
	"bytes"
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestConsoleExporter_WritesSpans(t *testing.T) {
	var buf bytes.Buffer
	exporter, err := NewConsoleExporter(ConsoleConfig{Writer: &buf})
	if err != nil {
		t.Fatalf("NewConsoleExporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	_, span := tp.Tracer("test").Start(context.Background(), "agentrun.run")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte(`"Name":"agentrun.run"`)) {
		t.Errorf("expected span in output, got %s", buf.String())
	}
}

func TestOTLPExporters_Construct(t *testing.T) {
	ctx := context.Background()

	// Exporters connect lazily, so construction succeeds without a collector.
	grpcExp, err := NewOTLPExporter(ctx, OTLPConfig{Endpoint: "localhost:4317", Insecure: true})
	if err != nil {
		t.Fatalf("NewOTLPExporter: %v", err)
	}
	_ = grpcExp.Shutdown(ctx)

	httpExp, err := NewOTLPHTTPExporter(ctx, OTLPHTTPConfig{Endpoint: "http://localhost:4318", Headers: map[string]string{"x-team": "agents"}})
	if err != nil {
		t.Fatalf("NewOTLPHTTPExporter: %v", err)
	}
	_ = httpExp.Shutdown(ctx)
}
