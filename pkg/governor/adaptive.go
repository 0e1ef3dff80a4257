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
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

// adaptiveState carries the one-shot pressure-feedback flag. The pressure
// path is the single writer arming it; the resolver reads and clears it
// atomically, so the two never block each other.
type adaptiveState struct {
	shiftRequested atomic.Bool
}

// adjustMinScore folds the adaptive override into the resolved score. The
// flag is consumed unconditionally: it is a one-shot trigger, not a sticky
// mode. The clamp only ever lowers the score.
func (e *Engine) adjustMinScore(score int) (adjusted int, isAdaptive bool) {
	p := e.policy.Load()
	if !p.EnableAdaptive {
		return score, false
	}
	armed := e.adaptive.shiftRequested.Swap(false)
	if armed && score > p.CapScore {
		return p.CapScore, true
	}
	return score, false
}

// OnPressureEvent consumes an asynchronous pressure level in [0, 100]. At or
// above the arm level it arms the adaptive shift, but only when free memory
// is already below the worst table entry and file-backed memory is below the
// configured pseudo cutoff; pressure spikes without genuine cache exhaustion
// do not arm. Below the arm level a previously armed flag is cleared, since
// pressure receded before the shift was consumed. Never blocks on the scan.
func (e *Engine) OnPressureEvent(level int) {
	p := e.policy.Load()
	if !p.EnableAdaptive {
		return
	}
	if level < p.PressureArmLevel {
		if e.adaptive.shiftRequested.Load() {
			e.adaptive.shiftRequested.Store(false)
			if p.DebugLevel >= 2 {
				logutil.BgLogger().Debug("pressure receded, adaptive shift disarmed",
					zap.Int("level", level))
			}
		}
		return
	}

	snap, err := e.snaps.Snapshot()
	if err != nil {
		logutil.BgLogger().Warn("pressure event could not read memory snapshot", zap.Error(err))
		return
	}
	freeKB := snap.FreePages * e.pageKB
	fileKB := snap.rawFilePages() * e.pageKB
	if freeKB < p.Table.LastMinFreeKB() && fileKB < p.VMPressureFileMinKB {
		e.adaptive.shiftRequested.Store(true)
		if p.DebugLevel >= 2 {
			logutil.BgLogger().Debug("adaptive shift armed",
				zap.Int("level", level),
				zap.Int64("freeKB", freeKB),
				zap.Int64("fileKB", fileKB))
		}
	}
}
