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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportCountersDrains(t *testing.T) {
	e, _ := newTestEngine(nil, &mockSnaps{snap: lowSnap()}, &mockProcs{}, nil)
	e.counters.scans.Store(3)
	e.counters.kills.Store(2)
	e.counters.escapeNoMatch.Store(1)
	e.counters.reclaimedKB.Store(4096)

	e.reportCounters(5 * time.Second)

	require.Zero(t, e.counters.scans.Load())
	require.Zero(t, e.counters.kills.Load())
	require.Zero(t, e.counters.escapeNoMatch.Load())
	require.Zero(t, e.counters.reclaimedKB.Load())
}
