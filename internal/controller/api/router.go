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

// Package api implements the HTTP request layer: authentication, rate
// limiting, validation and routing onto the run service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/agentrun/internal/controller/auth"
	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/middleware"
	"github.com/tombee/agentrun/internal/controller/runner"
	internallog "github.com/tombee/agentrun/internal/log"
	"github.com/tombee/agentrun/internal/tracing"
)

// DefaultAPIPrefix is where the agent routes are mounted.
const DefaultAPIPrefix = "/api/v1"

// RunService is the subset of runner.Service the handlers call.
type RunService interface {
	Launch(ctx context.Context, req runner.LaunchRequest) (*backend.Run, error)
	Get(ctx context.Context, runID, userID string) (*backend.Run, error)
	ListMessages(ctx context.Context, runID string, since *time.Time) ([]*backend.Message, error)
	RequestCancel(ctx context.Context, runID, userID string) (*backend.Run, error)
	List(ctx context.Context, userID string, filter backend.RunFilter) ([]*backend.Run, int, error)
	Ping(ctx context.Context) error
	IsDraining() bool
}

// Config configures the router.
type Config struct {
	// APIPrefix is prepended to every agent route.
	APIPrefix string

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	JWT       auth.JWTConfig
	RateLimit auth.RateLimitConfig

	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool

	// Version information reported by GET /version.
	Version   string
	Commit    string
	BuildDate string
}

// Router serves the agent run API.
type Router struct {
	config   Config
	runs     RunService
	accounts AccountService
	limiter  *auth.RateLimiter
	logger   *slog.Logger
	handler  http.Handler
}

// NewRouter builds the route table.
func NewRouter(cfg Config, runs RunService, logger *slog.Logger, opts ...Option) *Router {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = DefaultAPIPrefix
	}
	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		config:  cfg,
		runs:    runs,
		limiter: auth.NewRateLimiter(cfg.RateLimit),
		logger:  internallog.WithComponent(logger, "api"),
	}
	for _, opt := range opts {
		opt(r)
	}

	prefix := cfg.APIPrefix
	agents := http.NewServeMux()
	agents.HandleFunc("POST "+prefix+"/agents/{agentType}/run", r.handleLaunch)
	agents.HandleFunc("GET "+prefix+"/agents/runs", r.handleList)
	agents.HandleFunc("GET "+prefix+"/agents/runs/{runId}", r.handleGet)
	agents.HandleFunc("POST "+prefix+"/agents/runs/{runId}/cancel", r.handleCancel)
	if r.accounts != nil {
		agents.HandleFunc("GET "+prefix+"/users/me", r.handleMe)
		agents.HandleFunc("GET "+prefix+"/users", r.handleUsers)
	}
	agents.HandleFunc(prefix+"/", r.handleNotFound)

	authn := auth.NewMiddleware(cfg.JWT, writeError, r.logger)
	protected := middleware.Chain(agents,
		authn.Wrap,
		auth.RateLimit(r.limiter, writeError),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /version", r.handleVersion)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.Handle(prefix+"/", protected)
	if r.accounts != nil {
		public := http.NewServeMux()
		public.HandleFunc("POST "+prefix+"/auth/register", r.handleRegister)
		public.HandleFunc("POST "+prefix+"/auth/login", r.handleLogin)
		public.HandleFunc("POST "+prefix+"/auth/refresh", r.handleRefresh)
		public.HandleFunc("POST "+prefix+"/auth/logout", r.handleLogout)
		public.HandleFunc(prefix+"/auth/", r.handleNotFound)
		mux.Handle(prefix+"/auth/", middleware.Chain(public, auth.RateLimit(r.limiter, writeError)))
	}
	mux.HandleFunc("/", r.handleNotFound)

	r.handler = middleware.Chain(mux,
		internallog.HTTPMiddleware(r.logger),
		tracing.HTTPMiddleware,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)),
		middleware.MaxBody(cfg.MaxBodyBytes),
	)
	return r
}

// Handler returns the root HTTP handler.
func (r *Router) Handler() http.Handler {
	return r.handler
}

// RateLimiter returns the per-user limiter so idle buckets can be swept.
func (r *Router) RateLimiter() *auth.RateLimiter {
	return r.limiter
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "Route "+req.URL.Path+" not found")
}
