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

package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	internallog "github.com/tombee/agentrun/internal/log"
)

// requestTransport decorates each attempt with identifying headers and logs it.
type requestTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func newRequestTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *requestTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &requestTransport{base: base, userAgent: userAgent, logger: logger}
}

// RoundTrip implements http.RoundTripper. Retries of one request share its
// X-Request-ID, so server logs group them.
func (t *requestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get(internallog.RequestIDHeader) == "" {
		req.Header.Set(internallog.RequestIDHeader, uuid.NewString())
	}
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	attrs := []any{
		slog.String("method", req.Method),
		slog.String("url", sanitizeURL(req.URL)),
		slog.String("request_id", req.Header.Get(internallog.RequestIDHeader)),
		internallog.Duration(internallog.DurationKey, time.Since(start).Milliseconds()),
	}

	if err != nil {
		t.logger.Debug("http request failed", append(attrs, internallog.Error(err))...)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 500 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request", append(attrs, slog.Int("status", resp.StatusCode))...)
	return resp, nil
}
