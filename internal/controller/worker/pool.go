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

// Package worker claims dispatched jobs and executes their runs on a bounded
// pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/agentrun/internal/controller/queue"
	internallog "github.com/tombee/agentrun/internal/log"
)

const (
	// DefaultConcurrency is the number of runs executed at once.
	DefaultConcurrency = 5

	// DefaultPollInterval is how often an idle pool asks the queue for work.
	DefaultPollInterval = time.Second
)

// Executor runs a single agent run to completion.
type Executor interface {
	Execute(ctx context.Context, runID string) error
}

// Config configures a Pool.
type Config struct {
	// ID identifies this worker in job locks. Defaults to hostname-pid.
	ID string

	// Concurrency bounds the number of runs executing at once.
	Concurrency int

	// PollInterval is the delay between claim attempts while idle.
	PollInterval time.Duration
}

// DefaultID returns the hostname-pid identifier used when none is configured.
func DefaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Pool polls a queue for jobs and executes each claimed run in its own goroutine.
type Pool struct {
	cfg      Config
	claimer  queue.Claimer
	executor Executor
	logger   *slog.Logger

	// semaphore holds one token per executing run
	semaphore chan struct{}
	wg        sync.WaitGroup
	active    atomic.Int32
	draining  atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
}

// New creates a worker pool. Zero config values take their defaults.
func New(cfg Config, claimer queue.Claimer, executor Executor, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ID == "" {
		cfg.ID = DefaultID()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		cfg:       cfg,
		claimer:   claimer,
		executor:  executor,
		logger:    internallog.WithComponent(logger, "worker").With(slog.String(internallog.WorkerIDKey, cfg.ID)),
		semaphore: make(chan struct{}, cfg.Concurrency),
	}
}

// ID returns the worker identifier used when claiming jobs.
func (p *Pool) ID() string {
	return p.cfg.ID
}

// Start begins polling for jobs. It returns immediately; call Stop to end polling.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	var ready <-chan struct{}
	if n, ok := p.claimer.(queue.Notifier); ok {
		ready = n.Ready()
	}

	p.loopWG.Add(1)
	go p.loop(loopCtx, ready)

	p.logger.Info("worker pool started",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("poll_interval", p.cfg.PollInterval))
	return nil
}

func (p *Pool) loop(ctx context.Context, ready <-chan struct{}) {
	defer p.loopWG.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.fill(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fill(ctx)
		case <-ready:
			p.fill(ctx)
		}
	}
}

// fill claims jobs until the queue is empty or every slot is busy.
func (p *Pool) fill(ctx context.Context) {
	for !p.draining.Load() && ctx.Err() == nil {
		select {
		case p.semaphore <- struct{}{}:
		default:
			return
		}

		job, err := p.claimer.Claim(ctx, p.cfg.ID)
		if err != nil || job == nil {
			<-p.semaphore
			if err != nil && ctx.Err() == nil {
				p.logger.Error("failed to claim job", internallog.Error(err))
			}
			return
		}

		jobsClaimed.Inc()
		p.dispatch(ctx, job)
	}
}

func (p *Pool) dispatch(ctx context.Context, job *queue.Job) {
	p.wg.Add(1)
	p.active.Add(1)
	activeExecutions.Inc()

	// Shutdown stops claiming but never interrupts a run mid-step.
	execCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			<-p.semaphore
			p.active.Add(-1)
			activeExecutions.Dec()
			p.wg.Done()
		}()

		logger := p.logger.With(
			slog.String(internallog.JobIDKey, job.ID),
			slog.String(internallog.RunIDKey, job.RunID))
		logger.Debug("executing run")

		start := time.Now()
		err := p.executor.Execute(execCtx, job.RunID)
		duration := internallog.Duration(internallog.DurationKey, time.Since(start).Milliseconds())

		if err != nil {
			jobsFinished.WithLabelValues("failed").Inc()
			logger.Warn("run execution failed", internallog.Error(err), duration)
			if failErr := p.claimer.Fail(execCtx, job.ID, err.Error()); failErr != nil {
				logger.Error("failed to mark job failed", internallog.Error(failErr))
			}
			return
		}

		jobsFinished.WithLabelValues("completed").Inc()
		logger.Debug("run execution finished", duration)
		if err := p.claimer.Complete(execCtx, job.ID); err != nil {
			logger.Error("failed to complete job", internallog.Error(err))
		}
	}()
}

// ActiveCount returns the number of runs currently executing.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// StartDraining stops the pool from claiming new jobs. Executing runs continue.
func (p *Pool) StartDraining() {
	if p.draining.CompareAndSwap(false, true) {
		p.logger.Info("worker pool draining", slog.Int("active", p.ActiveCount()))
	}
}

// IsDraining reports whether the pool has stopped claiming jobs.
func (p *Pool) IsDraining() bool {
	return p.draining.Load()
}

// WaitForDrain waits until no runs are executing or the timeout expires.
func (p *Pool) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		active := p.ActiveCount()
		if active == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("drain timeout: %d runs still executing", active)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop ends polling and waits for executing runs to finish or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.StartDraining()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}
