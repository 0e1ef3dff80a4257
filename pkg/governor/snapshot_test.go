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

	"github.com/stretchr/testify/require"
)

func TestRawFilePagesClamped(t *testing.T) {
	s := &MemorySnapshot{FilePages: 800, ShmemPages: 100, SwapCachePages: 50}
	require.Equal(t, int64(650), s.rawFilePages())

	s = &MemorySnapshot{FilePages: 100, ShmemPages: 400, SwapCachePages: 50}
	require.Equal(t, int64(0), s.rawFilePages())

	s = &MemorySnapshot{FilePages: 100, SecondaryCachePages: 500, ShmemPages: 400}
	require.Equal(t, int64(200), s.rawFilePages())
}

func TestEstimateWithoutZones(t *testing.T) {
	s := &MemorySnapshot{FreePages: 1000, FilePages: 800, ShmemPages: 100, SwapCachePages: 50}
	free, file := estimateAvailable(s, AllocContext{HighestTier: 2}, false)
	require.Equal(t, int64(1000), free)
	require.Equal(t, int64(650), file)
}

func testZones() []ZoneStat {
	return []ZoneStat{
		{
			Tier:          0,
			FreePages:     100,
			LowmemReserve: []int64{0, 0, 40},
		},
		{
			Tier:               2,
			FreePages:          500,
			ReservePoolFree:    30,
			PresentPages:       10000,
			WatermarkLowPages:  50,
			WatermarkHighPages: 80,
		},
		{
			Tier:           3,
			FreePages:      200,
			FilePages:      300,
			ShmemPages:     20,
			SwapCachePages: 10,
		},
		{
			Movable:         true,
			ReservePoolFree: 60,
		},
	}
}

func TestEstimateFullTune(t *testing.T) {
	s := &MemorySnapshot{
		FreePages:      1000,
		FilePages:      800,
		ShmemPages:     100,
		SwapCachePages: 50,
		Zones:          testZones(),
	}
	free, file := estimateAvailable(s, AllocContext{HighestTier: 2}, false)
	// Tier 0 holds back 40 for tier-2 allocations, tier 3 is out of reach
	// entirely, and both reserve pools (movable 60, preferred zone 30) are
	// off limits.
	require.Equal(t, int64(1000-40-200-60-30), free)
	require.Equal(t, int64(650-270), file)
}

func TestEstimateFullTuneReservePoolUsable(t *testing.T) {
	s := &MemorySnapshot{
		FreePages:      1000,
		FilePages:      800,
		ShmemPages:     100,
		SwapCachePages: 50,
		Zones:          testZones(),
	}
	free, _ := estimateAvailable(s, AllocContext{HighestTier: 2, CanUseReservePool: true}, false)
	require.Equal(t, int64(1000-40-200), free)
}

func TestEstimateCanGoNegative(t *testing.T) {
	s := &MemorySnapshot{
		FreePages: 100,
		Zones:     testZones(),
	}
	free, _ := estimateAvailable(s, AllocContext{HighestTier: 2}, false)
	require.Negative(t, free)
}

func TestEstimateBackgroundFastPath(t *testing.T) {
	zones := testZones()
	zones[1].FreePages = 5000
	s := &MemorySnapshot{
		FreePages:      6000,
		FilePages:      800,
		ShmemPages:     100,
		SwapCachePages: 50,
		Zones:          zones,
	}
	ac := AllocContext{HighestTier: 2, BackgroundReclaim: true}

	// Preferred zone clears high watermark + cluster + balance gap, so only
	// free pages are tuned; file pages stay raw.
	free, file := estimateAvailable(s, ac, false)
	require.Equal(t, int64(6000-40-200-60-30), free)
	require.Equal(t, int64(650), file)

	// A fast scan tunes the file estimate too.
	_, file = estimateAvailable(s, ac, true)
	require.Equal(t, int64(650-270), file)
}

func TestEstimateBackgroundUnbalancedFallsBack(t *testing.T) {
	// Preferred zone below its high watermark: full tuning applies.
	zones := testZones()
	zones[1].FreePages = 100
	s := &MemorySnapshot{
		FreePages:      1000,
		FilePages:      800,
		ShmemPages:     100,
		SwapCachePages: 50,
		Zones:          zones,
	}
	free, file := estimateAvailable(s, AllocContext{HighestTier: 2, BackgroundReclaim: true}, false)
	require.Equal(t, int64(1000-40-200-60-30), free)
	require.Equal(t, int64(650-270), file)
}
