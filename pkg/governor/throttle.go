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
	"time"

	"go.uber.org/atomic"
)

// throttleState is the cooldown state machine. Two independent gates suppress
// re-invocation when the outcome is predictable: one after a kill, one after
// an invocation that found nothing to kill. Deadlines are unix nanos; a gate
// fires when the resolved score is at or above its ceiling and the deadline
// has not passed. Fields are atomics so the gates can be read without the
// scan lock.
type throttleState struct {
	killUntil   atomic.Int64
	killCeiling atomic.Int64

	noKillUntil   atomic.Int64
	noKillCeiling atomic.Int64
}

func newThrottleState() *throttleState {
	t := &throttleState{}
	t.killCeiling.Store(scoreCeilingDisabled)
	t.noKillCeiling.Store(scoreCeilingDisabled)
	return t
}

// killGateClosed reports whether the post-kill cooldown suppresses an
// invocation resolving to score at time now.
func (t *throttleState) killGateClosed(score int, now time.Time) bool {
	return int64(score) >= t.killCeiling.Load() && now.UnixNano() <= t.killUntil.Load()
}

// noKillGateClosed reports whether the kill-nothing cooldown suppresses an
// invocation resolving to score at time now.
func (t *throttleState) noKillGateClosed(score int, now time.Time) bool {
	return int64(score) >= t.noKillCeiling.Load() && now.UnixNano() <= t.noKillUntil.Load()
}

// recordKill arms the post-kill gate and disarms the kill-nothing gate: a
// kill just happened, so "nothing to kill" no longer holds.
func (t *throttleState) recordKill(score int, until time.Time) {
	t.killCeiling.Store(int64(score))
	t.killUntil.Store(until.UnixNano())
	t.noKillCeiling.Store(scoreCeilingDisabled)
}

// recordNoKill arms the kill-nothing gate.
func (t *throttleState) recordNoKill(score int, until time.Time) {
	t.noKillCeiling.Store(int64(score))
	t.noKillUntil.Store(until.UnixNano())
}
