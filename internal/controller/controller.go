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

package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/agentrun/internal/config"
	"github.com/tombee/agentrun/internal/controller/api"
	"github.com/tombee/agentrun/internal/controller/auth"
	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/backend/memory"
	"github.com/tombee/agentrun/internal/controller/backend/postgres"
	"github.com/tombee/agentrun/internal/controller/backend/sqlite"
	"github.com/tombee/agentrun/internal/controller/listener"
	"github.com/tombee/agentrun/internal/controller/queue"
	"github.com/tombee/agentrun/internal/controller/runner"
	"github.com/tombee/agentrun/internal/controller/worker"
	"github.com/tombee/agentrun/internal/llm"
	internallog "github.com/tombee/agentrun/internal/log"
	"github.com/tombee/agentrun/internal/tasks"
	"github.com/tombee/agentrun/internal/tracing"
)

// refreshTokenSweepInterval is how often expired refresh tokens are deleted.
const refreshTokenSweepInterval = time.Hour

// Options contains controller options.
type Options struct {
	// Mode is api, worker or all. Defaults to all.
	Mode string

	Version   string
	Commit    string
	BuildDate string

	// Logger overrides the logger built from the log configuration.
	Logger *slog.Logger

	// LLM overrides the reasoning client built from the llm configuration.
	LLM llm.Client

	// Registerer receives the OTel metrics collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Controller wires the run store, dispatch queue, run service, HTTP API
// and worker pool into one process.
type Controller struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	backend backend.Backend
	queue   queue.Queue
	tracing *tracing.Provider
	llm     llm.Client

	// API side (nil in worker mode)
	service  *runner.Service
	router   *api.Router
	accounts *auth.Accounts

	// Worker side (nil in api mode)
	executor *runner.Executor
	pool     *worker.Pool

	mu          sync.Mutex
	started     bool
	closed      bool
	server      *http.Server
	ln          net.Listener
	stopCleanup context.CancelFunc
}

// New creates a new controller for the given mode.
func New(cfg *config.Config, opts Options) (*Controller, error) {
	if opts.Mode == "" {
		opts.Mode = config.ModeAll
	}
	if err := cfg.ValidateMode(opts.Mode); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = internallog.New(&internallog.Config{
			Level:     cfg.Log.Level,
			Format:    internallog.Format(cfg.Log.Format),
			AddSource: cfg.Log.AddSource,
		})
	}

	c := &Controller{
		cfg:    cfg,
		opts:   opts,
		logger: internallog.WithComponent(logger, "controller"),
	}

	be, q, err := openBackend(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend.Type, err)
	}
	c.backend = be
	c.queue = q

	if err := c.init(logger); err != nil {
		c.closeStores()
		return nil, err
	}

	c.logger.Info("controller configured",
		slog.String("mode", opts.Mode),
		slog.String("backend", cfg.Backend.Type))
	return c, nil
}

func (c *Controller) init(logger *slog.Logger) error {
	ctx := context.Background()
	cfg := c.cfg

	tp, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Observability.Tracing.Enabled,
		Exporter:       cfg.Observability.Tracing.Exporter,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		Insecure:       cfg.Observability.Tracing.Insecure,
		Headers:        cfg.Observability.Tracing.Headers,
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: c.opts.Version,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Registerer:     c.opts.Registerer,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	c.tracing = tp

	runnerOpts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithTracer(tp.Tracer("github.com/tombee/agentrun/runner")),
	}

	if c.opts.Mode != config.ModeWorker {
		c.service = runner.NewService(c.backend, c.queue, runnerOpts...)
		accessJWT := auth.JWTConfig{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.ClockSkew,
		}
		var routerOpts []api.Option
		if store, ok := c.backend.(backend.AccountStore); ok {
			refreshJWT := accessJWT
			refreshJWT.Secret = []byte(cfg.Auth.SigningRefreshSecret())
			c.accounts = auth.NewAccounts(store, auth.AccountsConfig{
				Access:              accessJWT,
				AccessTTL:           cfg.Auth.AccessTTL,
				Refresh:             refreshJWT,
				RefreshTTL:          cfg.Auth.RefreshTTL,
				DisableRegistration: !cfg.Auth.RegistrationEnabled(),
			}, logger)
			routerOpts = append(routerOpts, api.WithAccounts(c.accounts))
		}
		c.router = api.NewRouter(api.Config{
			APIPrefix:    cfg.Server.APIPrefix,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			CORSOrigins:  cfg.Server.CORSOrigins,
			JWT:          accessJWT,
			RateLimit: auth.RateLimitConfig{
				Enabled:     cfg.RateLimit.IsEnabled(),
				MaxRequests: cfg.RateLimit.MaxRequests,
				Window:      cfg.RateLimit.Window,
			},
			MetricsEnabled: cfg.Observability.Metrics.IsEnabled(),
			Version:        c.opts.Version,
			Commit:         c.opts.Commit,
			BuildDate:      c.opts.BuildDate,
		}, c.service, logger, routerOpts...)
	}

	if c.opts.Mode != config.ModeAPI {
		client := c.opts.LLM
		if client == nil {
			client, err = llm.New(ctx, llm.Config{
				Provider:       cfg.LLM.Provider,
				Model:          cfg.LLM.Model,
				APIKey:         cfg.LLM.APIKey,
				BaseURL:        cfg.LLM.BaseURL,
				MaxTokens:      cfg.LLM.MaxTokens,
				RequestTimeout: cfg.LLM.RequestTimeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to create reasoning client: %w", err)
			}
		}
		c.llm = client

		// Every task type is registered before the pool claims its first job.
		registry := runner.NewRegistry()
		deps := tasks.Deps{LLM: client, Model: cfg.LLM.Model, MaxTokens: cfg.LLM.MaxTokens}
		if err := tasks.Setup(ctx, registry, deps, cfg.Tasks.Files, logger); err != nil {
			return fmt.Errorf("failed to register task types: %w", err)
		}

		c.executor = runner.NewExecutor(c.backend, c.backend, registry, runnerOpts...)
		c.pool = worker.New(worker.Config{
			ID:           cfg.Worker.ID,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
		}, c.queue, c.executor, logger)
	}

	return nil
}

// openBackend opens the configured store. The SQL backends double as the
// job queue; the memory backend pairs with an in-process queue.
func openBackend(cfg config.BackendConfig) (backend.Backend, queue.Queue, error) {
	switch cfg.Type {
	case config.BackendSQLite:
		be, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WALEnabled()})
		if err != nil {
			return nil, nil, err
		}
		return be, be, nil
	case config.BackendPostgres:
		be, err := postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:  cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return be, be, nil
	case config.BackendMemory, "":
		return memory.New(), queue.NewMemoryQueue(), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// Start starts the worker pool and the HTTP server, then blocks until ctx
// is cancelled or the server fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	c.mu.Unlock()

	if c.pool != nil {
		if err := c.pool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}

	if c.router == nil {
		c.logger.Info("agentrund started", slog.String("version", c.opts.Version), slog.String("mode", c.opts.Mode))
		<-ctx.Done()
		return nil
	}

	lnCfg := listener.Config{
		Addr:        net.JoinHostPort(c.cfg.Server.Host, strconv.Itoa(c.cfg.Server.Port)),
		TLSCertFile: c.cfg.Server.TLSCertFile,
		TLSKeyFile:  c.cfg.Server.TLSKeyFile,
	}
	ln, err := listener.New(lnCfg)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	if !lnCfg.TLSEnabled() && listener.IsRemoteAddr(lnCfg.Addr) {
		c.logger.Warn("serving plain HTTP on a non-loopback address; bearer tokens travel unencrypted",
			slog.String("addr", lnCfg.Addr))
	}

	server := &http.Server{
		Handler:           c.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	c.mu.Lock()
	c.ln = ln
	c.server = server
	c.stopCleanup = stopCleanup
	c.mu.Unlock()

	if c.cfg.RateLimit.IsEnabled() {
		go c.sweepRateLimiter(cleanupCtx, c.cfg.RateLimit.Window)
	}
	if c.accounts != nil {
		go c.sweepRefreshTokens(cleanupCtx, refreshTokenSweepInterval)
	}

	c.logger.Info("agentrund starting",
		slog.String("version", c.opts.Version),
		slog.String("mode", c.opts.Mode),
		slog.String("listen_addr", ln.Addr().String()),
		slog.Bool("tls", lnCfg.TLSEnabled()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// sweepRateLimiter drops buckets idle for longer than one window.
func (c *Controller) sweepRateLimiter(ctx context.Context, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.router.RateLimiter().Cleanup(window)
		}
	}
}

// sweepRefreshTokens deletes expired refresh tokens.
func (c *Controller) sweepRefreshTokens(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.accounts.PruneExpired(ctx)
			if err != nil {
				c.logger.Warn("failed to prune refresh tokens", internallog.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Debug("pruned refresh tokens", slog.Int("count", n))
			}
		}
	}
}

// Addr returns the address the API is listening on, or "" before Start has
// bound it.
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Shutdown gracefully shuts down the controller. Launches are refused and
// no new jobs are claimed; runs already executing get the worker drain
// timeout to finish before the server and stores are closed.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	active := 0
	if c.pool != nil {
		active = c.pool.ActiveCount()
	}
	c.logger.Info("graceful shutdown initiated", slog.Int("active_runs", active))

	if c.service != nil {
		c.service.StartDraining()
	}
	if c.server != nil {
		c.server.SetKeepAlivesEnabled(false)
	}

	if c.pool != nil {
		c.pool.StartDraining()

		drainTimeout := c.cfg.Worker.DrainTimeout
		if err := c.pool.WaitForDrain(ctx, drainTimeout); err != nil {
			c.logger.Warn("drain timeout exceeded",
				slog.Int("remaining_runs", c.pool.ActiveCount()),
				slog.Duration("drain_timeout", drainTimeout))
		} else {
			c.logger.Info("all runs completed during drain")
		}

		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Warn("worker pool stop timeout", internallog.Error(err))
		}
	}

	if c.stopCleanup != nil {
		c.stopCleanup()
	}

	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	if c.tracing != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.tracing.ForceFlush(flushCtx); err != nil {
			c.logger.Warn("failed to flush pending spans", internallog.Error(err))
		}
		if err := c.tracing.Shutdown(flushCtx); err != nil {
			c.logger.Error("OpenTelemetry provider shutdown error", internallog.Error(err))
		}
	}

	c.closeStores()

	c.logger.Info("controller stopped")
	return nil
}

func (c *Controller) closeStores() {
	if closer, ok := c.llm.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close reasoning client", internallog.Error(err))
		}
	}
	// The SQL backends serve as their own queue.
	if closer, ok := c.queue.(io.Closer); ok && any(c.queue) != any(c.backend) {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close queue", internallog.Error(err))
		}
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			c.logger.Error("failed to close backend", internallog.Error(err))
		}
	}
}
