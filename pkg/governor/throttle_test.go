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

func TestThrottleGates(t *testing.T) {
	st := newThrottleState()
	now := time.Unix(1000, 0)

	// Fresh state: nothing fires.
	require.False(t, st.killGateClosed(ScoreMax, now))
	require.False(t, st.noKillGateClosed(ScoreMax, now))

	st.recordKill(12, now.Add(time.Second))
	require.True(t, st.killGateClosed(12, now))
	require.True(t, st.killGateClosed(900, now))
	require.False(t, st.killGateClosed(1, now), "more severe pressure passes")
	require.False(t, st.killGateClosed(12, now.Add(2*time.Second)), "deadline passed")

	st.recordNoKill(6, now.Add(2*time.Second))
	require.True(t, st.noKillGateClosed(6, now))
	require.False(t, st.noKillGateClosed(0, now))

	// A kill invalidates the kill-nothing gate.
	st.recordKill(6, now.Add(time.Second))
	require.False(t, st.noKillGateClosed(6, now))
}
