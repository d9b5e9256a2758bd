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

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrun_worker_jobs_claimed_total",
			Help: "Total jobs claimed by this worker process",
		},
	)

	// jobsFinished counts claimed jobs by result (completed, failed)
	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_worker_jobs_total",
			Help: "Total jobs finished by this worker process",
		},
		[]string{"result"},
	)

	activeExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentrun_worker_active_executions",
			Help: "Number of runs currently executing in the worker pool",
		},
	)
)
