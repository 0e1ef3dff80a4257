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

package governor

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/metrics"
	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

// telemetryInterval is how often the counter report is emitted and drained.
const telemetryInterval = 5 * time.Second

// counters are process-wide, monotonically incremented, periodically drained
// by the telemetry reporter. Diagnostic only; never read for policy.
type counters struct {
	scans           atomic.Int64
	kills           atomic.Int64
	escapeThrottled atomic.Int64
	escapeQuiesced  atomic.Int64
	escapeNoMatch   atomic.Int64
	escapeLockAbort atomic.Int64
	reclaimedKB     atomic.Int64
}

// RunTelemetry periodically emits and resets the scan/kill/escape counters
// until ctx is done. Prometheus counters receive the same deltas and stay
// monotonic.
func (e *Engine) RunTelemetry(ctx context.Context) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()
	last := e.now()
	for {
		select {
		case <-ticker.C:
			now := e.now()
			e.reportCounters(now.Sub(last))
			last = now
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) reportCounters(elapsed time.Duration) {
	scans := e.counters.scans.Swap(0)
	kills := e.counters.kills.Swap(0)
	escape1 := e.counters.escapeThrottled.Swap(0)
	escape2 := e.counters.escapeQuiesced.Swap(0)
	escape3 := e.counters.escapeNoMatch.Swap(0)
	lockAborts := e.counters.escapeLockAbort.Swap(0)
	reclaimedKB := e.counters.reclaimedKB.Swap(0)

	metrics.ScanCounter.Add(float64(scans))
	metrics.KillCounter.Add(float64(kills))
	metrics.EscapeCounter.WithLabelValues(metrics.LblEscapeThrottled).Add(float64(escape1))
	metrics.EscapeCounter.WithLabelValues(metrics.LblEscapeQuiesced).Add(float64(escape2))
	metrics.EscapeCounter.WithLabelValues(metrics.LblEscapeNoMatch).Add(float64(escape3))
	metrics.EscapeCounter.WithLabelValues(metrics.LblEscapeLockAbort).Add(float64(lockAborts))
	metrics.ReclaimedKBCounter.Add(float64(reclaimedKB))

	logutil.BgLogger().Info("governor load",
		zap.Duration("elapsed", elapsed),
		zap.Int64("scan", scans),
		zap.Int64("kill", kills),
		zap.Int64("escape1", escape1),
		zap.Int64("escape2", escape2),
		zap.Int64("escape3", escape3),
		zap.Int64("lockAborts", lockAborts),
		zap.Int64("reclaimedKB", reclaimedKB))
}
