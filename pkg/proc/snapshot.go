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

package proc

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"github.com/prometheus/procfs"

	"github.com/lowmemd/lowmemd/pkg/governor"
)

// zoneTiers orders the well-known zone names from most to least constrained.
var zoneTiers = map[string]int{
	"DMA":     0,
	"DMA32":   1,
	"Normal":  2,
	"HighMem": 3,
}

// Snapshot implements governor.SnapshotSource. Amounts are converted from
// the kB units of meminfo to pages; zone counters are already pages.
func (h *Host) Snapshot() (*governor.MemorySnapshot, error) {
	mi, err := h.fs.Meminfo()
	if err != nil {
		return nil, errors.Annotate(err, "read meminfo")
	}
	kbToPages := func(v *uint64) int64 {
		if v == nil {
			return 0
		}
		return int64(*v) / h.pageKB
	}
	snap := &governor.MemorySnapshot{
		FreePages: kbToPages(mi.MemFree),
		// Cached excludes the swap cache, so add it back to recover the full
		// file-backed total the estimator corrects downward again.
		FilePages:         kbToPages(mi.Cached) + kbToPages(mi.SwapCached),
		ShmemPages:        kbToPages(mi.Shmem),
		SwapCachePages:    kbToPages(mi.SwapCached),
		ActiveAnonPages:   kbToPages(mi.ActiveAnon),
		InactiveAnonPages: kbToPages(mi.InactiveAnon),
		ActiveFilePages:   kbToPages(mi.ActiveFile),
		InactiveFilePages: kbToPages(mi.InactiveFile),
	}

	zones, err := h.fs.Zoneinfo()
	if err != nil {
		// Zone topology is optional; the estimator skips zone tuning when
		// zones are absent.
		return snap, nil
	}
	reserve := h.zoneReservePool()
	snap.Zones = make([]governor.ZoneStat, 0, len(zones))
	for i, z := range zones {
		zs := zoneStat(&z)
		if i < len(reserve) {
			zs.ReservePoolFree = reserve[i]
		}
		snap.Zones = append(snap.Zones, zs)
	}
	return snap, nil
}

// zoneReservePool reads the per-zone nr_free_cma counters, which procfs does
// not parse. Entries align with the Zoneinfo zone order since both follow the
// "Node N, zone X" headers; missing counters stay zero.
func (h *Host) zoneReservePool() []int64 {
	data, err := os.ReadFile(filepath.Join(h.root, "zoneinfo"))
	if err != nil {
		return nil
	}
	return parseZoneReservePool(data)
}

func parseZoneReservePool(data []byte) []int64 {
	var out []int64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch {
		case len(fields) >= 4 && fields[0] == "Node" && fields[2] == "zone":
			out = append(out, 0)
		case len(fields) == 2 && fields[0] == "nr_free_cma" && len(out) > 0:
			if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				out[len(out)-1] = v
			}
		}
	}
	return out
}

func zoneStat(z *procfs.Zoneinfo) governor.ZoneStat {
	deref := func(v *int64) int64 {
		if v == nil {
			return 0
		}
		return *v
	}
	tier, ok := zoneTiers[z.Zone]
	movable := z.Zone == "Movable"
	if !ok && !movable {
		tier = len(zoneTiers)
	}
	reserve := make([]int64, 0, len(z.Protection))
	for _, p := range z.Protection {
		reserve = append(reserve, deref(p))
	}
	return governor.ZoneStat{
		Tier:               tier,
		Movable:            movable,
		FreePages:          deref(z.NrFreePages),
		FilePages:          deref(z.NrFilePages),
		ShmemPages:         deref(z.NrShmem),
		LowmemReserve:      reserve,
		PresentPages:       deref(z.Present),
		WatermarkLowPages:  deref(z.Low),
		WatermarkHighPages: deref(z.High),
	}
}
