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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lowmemd/lowmemd/pkg/governor"
)

// writeStat writes a plausible /proc/[pid]/stat line. Only comm, state,
// flags and rss matter to the reader; the rest is filler in field order.
func writeStat(t *testing.T, root string, pid int, comm, state string, flags uint, rssPages int) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprintf("%d", pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	line := fmt.Sprintf("%d (%s) %s 1 %d %d 0 -1 %d 100 0 0 0 10 10 0 0 20 0 1 0 100 10485760 %d "+
		"18446744073709551615 1 1 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n",
		pid, comm, state, pid, pid, flags, rssPages)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(line), 0o644))
}

func writeScore(t *testing.T, root string, pid, score int) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprintf("%d", pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oom_score_adj"),
		[]byte(fmt.Sprintf("%d\n", score)), 0o644))
}

func newTestHost(t *testing.T) (*Host, string) {
	t.Helper()
	root := t.TempDir()
	h, err := NewHost(root)
	require.NoError(t, err)
	h.pageKB = 4
	return h, root
}

func TestProcessesFromFakeProc(t *testing.T) {
	h, root := newTestHost(t)
	writeStat(t, root, 42, "cachegen", "S", 0, 2560)
	writeScore(t, root, 42, 900)
	writeStat(t, root, 43, "kswapd0", "S", pfKernelThread, 0)

	procs, err := h.Processes()
	require.NoError(t, err)
	require.Len(t, procs, 2)

	byName := map[string]governor.Process{}
	for _, p := range procs {
		byName[p.Name()] = p
	}

	user := byName["cachegen"]
	require.Equal(t, 42, user.PID())
	require.False(t, user.IsKernelHelper())
	require.False(t, user.IsDying())
	score, err := user.Score()
	require.NoError(t, err)
	require.Equal(t, 900, score)
	rss, err := user.ResidentKB()
	require.NoError(t, err)
	require.Equal(t, int64(2560*4), rss)

	require.True(t, byName["kswapd0"].IsKernelHelper())
}

func TestZombieIsDying(t *testing.T) {
	h, root := newTestHost(t)
	writeStat(t, root, 42, "walker", "Z", 0, 0)

	procs, err := h.Processes()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	require.True(t, procs[0].IsDying())
}

func TestMarkDyingSticksAndExpires(t *testing.T) {
	h, root := newTestHost(t)
	writeStat(t, root, 42, "cachegen", "S", 0, 100)

	procs, err := h.Processes()
	require.NoError(t, err)
	require.False(t, procs[0].IsDying())

	procs[0].MarkDying()
	require.True(t, procs[0].IsDying())

	// Expired entries are forgotten so recycled pids are not tainted.
	h.mu.Lock()
	h.dying[42] = time.Now().Add(-dyingTTL - time.Minute)
	h.mu.Unlock()
	require.False(t, h.isDying(42))

	// markDying sweeps stale entries of other pids.
	h.mu.Lock()
	h.dying[9000] = time.Now().Add(-dyingTTL - time.Minute)
	h.mu.Unlock()
	h.markDying(42)
	h.mu.Lock()
	_, stale := h.dying[9000]
	h.mu.Unlock()
	require.False(t, stale)
}

func TestReadScore(t *testing.T) {
	root := t.TempDir()
	writeScore(t, root, 7, -1000)

	score, err := readScore(root, 7)
	require.NoError(t, err)
	require.Equal(t, -1000, score)

	_, err = readScore(root, 8)
	require.Error(t, err)
}
