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

const (
	// zoneBalanceGapRatio bounds the extra headroom demanded of the preferred
	// zone before the background-reclaimer fast path applies.
	zoneBalanceGapRatio = 100
	// reclaimClusterPages is the reclaim batch size added to the fast-path
	// watermark check.
	reclaimClusterPages = 32
)

// ZoneStat is the per-zone slice of a MemorySnapshot. All amounts are pages.
type ZoneStat struct {
	// Tier orders zones from most constrained to least (0 = lowest).
	Tier int
	// Movable marks the movable-page zone, which carries the reserve pool.
	Movable bool

	FreePages      int64
	FilePages      int64
	ShmemPages     int64
	SwapCachePages int64
	// ReservePoolFree is the free page count of the special reserved pool
	// (usable only by callers whose allocation context permits it).
	ReservePoolFree int64

	// LowmemReserve is the per-tier protection ladder: pages this zone holds
	// back from allocations preferring the indexed tier.
	LowmemReserve []int64

	PresentPages       int64
	WatermarkLowPages  int64
	WatermarkHighPages int64
}

// reserveFor returns the pages this zone holds back from allocations whose
// preferred tier is classTier.
func (z *ZoneStat) reserveFor(classTier int) int64 {
	if classTier < 0 || classTier >= len(z.LowmemReserve) {
		return 0
	}
	return z.LowmemReserve[classTier]
}

// watermarkOK reports whether the zone's free pages clear mark plus the
// protection owed to classTier.
func (z *ZoneStat) watermarkOK(mark int64, classTier int) bool {
	return z.FreePages >= mark+z.reserveFor(classTier)
}

// MemorySnapshot is an immutable view of system memory counters, constructed
// fresh per invocation and owned exclusively by it. All amounts are pages.
type MemorySnapshot struct {
	FreePages           int64
	FilePages           int64
	ShmemPages          int64
	SwapCachePages      int64
	SecondaryCachePages int64

	ActiveAnonPages   int64
	InactiveAnonPages int64
	ActiveFilePages   int64
	InactiveFilePages int64

	// Zones is ordered by ascending tier; may be empty when the source cannot
	// observe zone topology, in which case zone tuning is skipped.
	Zones []ZoneStat
}

// rawFilePages is the file-backed total corrected for shared-memory and
// swap-cache pages, which are not reclaimable the same way. Never negative.
func (s *MemorySnapshot) rawFilePages() int64 {
	if s.ShmemPages+s.SwapCachePages < s.FilePages+s.SecondaryCachePages {
		return s.FilePages + s.SecondaryCachePages - s.ShmemPages - s.SwapCachePages
	}
	return 0
}

// AllocContext describes the caller's allocation context: which zone tier it
// may use, whether the reserved pool is usable, and whether the caller is the
// dedicated background reclaimer.
type AllocContext struct {
	// HighestTier is the highest zone tier the caller may allocate from.
	HighestTier int
	// CanUseReservePool permits allocations from the reserved-page pool.
	CanUseReservePool bool
	// BackgroundReclaim marks the dedicated background reclaimer, which gets
	// a lighter-weight estimate when its preferred zone is already balanced.
	BackgroundReclaim bool
}

// preferredZone picks the zone the caller would allocate from first: the
// highest-tier zone at or below the context's limit, skipping movable.
func preferredZone(zones []ZoneStat, highestTier int) *ZoneStat {
	var best *ZoneStat
	for i := range zones {
		z := &zones[i]
		if z.Movable || z.Tier > highestTier {
			continue
		}
		if best == nil || z.Tier > best.Tier {
			best = z
		}
	}
	return best
}

// tuneZones subtracts, from otherFree/otherFile, pages that are unreachable to
// an allocation preferring classTier: reserve-pool pages when the pool is off
// limits, whole zones above the preferred tier, and protection owed by zones
// below it. otherFile may be nil to skip the file-page correction.
func tuneZones(zones []ZoneStat, classTier int, otherFree, otherFile *int64, useReservePool bool) {
	for i := range zones {
		z := &zones[i]
		if z.Movable {
			if !useReservePool && otherFree != nil {
				*otherFree -= z.ReservePoolFree
			}
			continue
		}
		switch {
		case z.Tier > classTier:
			if otherFree != nil {
				*otherFree -= z.FreePages
			}
			if otherFile != nil {
				*otherFile -= z.FilePages - z.ShmemPages - z.SwapCachePages
			}
		case z.Tier < classTier:
			if z.watermarkOK(0, classTier) && otherFree != nil {
				if !useReservePool {
					*otherFree -= min(z.reserveFor(classTier)+z.ReservePoolFree, z.FreePages)
				} else {
					*otherFree -= z.reserveFor(classTier)
				}
			} else if otherFree != nil {
				*otherFree -= z.FreePages
			}
		}
	}
}

// estimateAvailable reduces the raw snapshot totals to the pages actually
// available to the caller's allocation context. Results may be negative.
func estimateAvailable(snap *MemorySnapshot, ac AllocContext, fastScan bool) (otherFreePages, otherFilePages int64) {
	otherFreePages = snap.FreePages
	otherFilePages = snap.rawFilePages()

	pz := preferredZone(snap.Zones, ac.HighestTier)
	if pz == nil {
		return otherFreePages, otherFilePages
	}
	classTier := pz.Tier

	balanceGap := min(pz.WatermarkLowPages,
		(pz.PresentPages+zoneBalanceGapRatio-1)/zoneBalanceGapRatio)

	if ac.BackgroundReclaim &&
		pz.watermarkOK(pz.WatermarkHighPages+reclaimClusterPages+balanceGap, classTier) {
		if fastScan {
			tuneZones(snap.Zones, classTier, &otherFreePages, &otherFilePages, ac.CanUseReservePool)
		} else {
			tuneZones(snap.Zones, classTier, &otherFreePages, nil, ac.CanUseReservePool)
		}
		if pz.watermarkOK(0, classTier) {
			if !ac.CanUseReservePool {
				otherFreePages -= min(pz.reserveFor(classTier)+pz.ReservePoolFree, pz.FreePages)
			} else {
				otherFreePages -= pz.reserveFor(classTier)
			}
		} else {
			otherFreePages -= pz.FreePages
		}
		return otherFreePages, otherFilePages
	}

	tuneZones(snap.Zones, classTier, &otherFreePages, &otherFilePages, ac.CanUseReservePool)
	if !ac.CanUseReservePool {
		otherFreePages -= pz.ReservePoolFree
	}
	return otherFreePages, otherFilePages
}
