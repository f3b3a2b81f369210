// Copyright 2024 Intel Corporation. All Rights Reserved.
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

package reclaim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reclaimd_cycles_total",
		Help: "Number of reclaim cycles started.",
	})
	metricEmptyScans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reclaimd_empty_scans_total",
		Help: "Number of reclaim cycles aborted because no eligible processes were found.",
	})
	metricVictims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reclaimd_victims_total",
		Help: "Number of processes selected for termination.",
	})
	metricTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reclaimd_confirmation_timeouts_total",
		Help: "Number of reclaim cycles that timed out waiting for teardown confirmations.",
	})
	metricPagesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reclaimd_pages_freed_total",
		Help: "Number of resident pages confirmed freed from terminated victims.",
	})
	metricPressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reclaimd_memory_pressure_level",
		Help: "Last reported memory pressure level (0-100).",
	})
)
