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

// Command agentrund serves the agentrun API and executes queued runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/agentrun/internal/config"
	"github.com/tombee/agentrun/internal/controller"
	"github.com/tombee/agentrun/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		mode        = flag.String("mode", config.ModeAll, "Process mode: api (HTTP only), worker (execution only) or all")
		configPath  = flag.String("config", "", "Path to config file (default: $AGENTRUN_CONFIG or ~/.config/agentrun/config.yaml)")
		port        = flag.Int("port", 0, "Override server.port")
		backendType = flag.String("backend", "", "Override backend.type (memory, sqlite, postgres)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentrund %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Bootstrap logger until the configured one exists.
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		logger.Error("failed to load config", log.Error(err))
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *backendType != "" {
		cfg.Backend.Type = *backendType
		if err := cfg.Validate(); err != nil {
			logger.Error("invalid configuration", log.Error(err))
			os.Exit(1)
		}
	}

	logger = log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	c, err := controller.New(cfg, controller.Options{
		Mode:      *mode,
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create controller", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startErr := c.Start(ctx)
	if startErr != nil {
		logger.Error("controller error", log.Error(startErr))
	} else {
		logger.Info("shutdown signal received")
	}
	stop()

	// Draining runs and closing the HTTP server each get their own budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout+cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", log.Error(err))
		os.Exit(1)
	}
	if startErr != nil {
		os.Exit(1)
	}
}
