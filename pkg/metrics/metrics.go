// Copyright 2026 The lowmemd Authors
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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Escape reason label values.
const (
	LblEscapeThrottled = "post_kill_cooldown"
	LblEscapeQuiesced  = "kill_nothing_cooldown"
	LblEscapeNoMatch   = "no_threshold_match"
	LblEscapeLockAbort = "scan_lock_aborted"
)

// Metrics
var (
	ScanCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lowmemd",
			Subsystem: "governor",
			Name:      "scans_total",
			Help:      "Counter of candidate scans performed.",
		})

	KillCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lowmemd",
			Subsystem: "governor",
			Name:      "kills_total",
			Help:      "Counter of processes terminated.",
		})

	EscapeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lowmemd",
			Subsystem: "governor",
			Name:      "escapes_total",
			Help:      "Counter of invocations that exited early, by reason.",
		}, []string{"reason"})

	ReclaimedKBCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lowmemd",
			Subsystem: "governor",
			Name:      "reclaimed_kilobytes_total",
			Help:      "Total resident memory reclaimed by kills, in KB.",
		})

	ResolvedScoreGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lowmemd",
			Subsystem: "governor",
			Name:      "last_resolved_score",
			Help:      "Resolved minimum priority score of the last full scan.",
		})

	DiagnosticCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lowmemd",
			Subsystem: "diagnostic",
			Name:      "jobs_total",
			Help:      "Counter of diagnostic jobs dispatched, by kind and result.",
		}, []string{"kind", "result"})
)

// RegisterMetrics registers all metrics with the given registry, or the
// default registerer when registry is nil.
func RegisterMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	registry.MustRegister(ScanCounter)
	registry.MustRegister(KillCounter)
	registry.MustRegister(EscapeCounter)
	registry.MustRegister(ReclaimedKBCounter)
	registry.MustRegister(ResolvedScoreGauge)
	registry.MustRegister(DiagnosticCounter)
}
