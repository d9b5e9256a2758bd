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

package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts runs reaching a terminal status
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_runs_total",
			Help: "Total agent runs by task type and terminal status",
		},
		[]string{"task_type", "status"},
	)

	// runsLaunched counts runs created through the service
	runsLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_runs_launched_total",
			Help: "Total agent runs launched by task type",
		},
		[]string{"task_type"},
	)

	// stepsTotal counts executed and skipped steps
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_steps_total",
			Help: "Total pipeline steps by task type, step kind and outcome",
		},
		[]string{"task_type", "kind", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrun_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"task_type", "kind"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentrun_active_runs",
			Help: "Number of runs currently executing in this process",
		},
	)
)

func recordRunOutcome(taskType, status string) {
	runsTotal.WithLabelValues(taskType, status).Inc()
}

func recordStep(taskType, kind, status string, d time.Duration) {
	stepsTotal.WithLabelValues(taskType, kind, status).Inc()
	if status != "skipped" {
		stepDuration.WithLabelValues(taskType, kind).Observe(d.Seconds())
	}
}
