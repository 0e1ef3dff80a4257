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
	"strings"
	"time"
)

const (
	// ScoreMax is the highest priority score a process can carry. Higher
	// scores mean more killable.
	ScoreMax = 1000
	// ScoreKillNothing is the sentinel resolved score meaning no process may
	// be killed this invocation. It sits one above the maximum possible score
	// so every real process falls below it.
	ScoreKillNothing = ScoreMax + 1
	// scoreCeilingDisabled parks a throttle ceiling above the sentinel so the
	// gate cannot fire until a real ceiling is recorded.
	scoreCeilingDisabled = ScoreKillNothing + 999
)

// ThresholdEntry maps a priority-score cutoff to a free-memory cutoff.
type ThresholdEntry struct {
	// MinScore is the minimum priority score a process must carry to be
	// killable while free memory is below MinFreeKB.
	MinScore int
	// MinFreeKB is the free-memory cutoff in kilobytes.
	MinFreeKB int64
}

// ThresholdTable is an ascending-by-MinScore sequence of entries. Both fields
// are expected to be non-decreasing across the sequence; violations are
// tolerated and simply produce first-match semantics.
type ThresholdTable []ThresholdEntry

// Resolve scans the table in ascending order and returns the MinScore of the
// first entry whose MinFreeKB exceeds both otherFree and otherFile, or
// ScoreKillNothing if no entry matches.
func (t ThresholdTable) Resolve(otherFreeKB, otherFileKB int64) int {
	for _, entry := range t {
		if otherFreeKB < entry.MinFreeKB && otherFileKB < entry.MinFreeKB {
			return entry.MinScore
		}
	}
	return ScoreKillNothing
}

// LastMinFreeKB returns the most aggressive (largest) free-memory cutoff, or
// zero for an empty table.
func (t ThresholdTable) LastMinFreeKB() int64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].MinFreeKB
}

// TaskBucket maps a resolved-score floor to the number of victims a single
// invocation may kill. Buckets are consulted in order; the first bucket whose
// MinScore the resolved score reaches wins.
type TaskBucket struct {
	MinScore int
	MaxTasks int
}

// ExemptFunc reports whether a process name is exempt from selection. It is
// consulted only while the resolved minimum score is above the protect floor.
type ExemptFunc func(name string) bool

// NewSubstringExemption builds an ExemptFunc matching any of the given
// substrings against process display names.
func NewSubstringExemption(patterns []string) ExemptFunc {
	if len(patterns) == 0 {
		return nil
	}
	copied := make([]string, len(patterns))
	copy(copied, patterns)
	return func(name string) bool {
		for _, p := range copied {
			if p != "" && strings.Contains(name, p) {
				return true
			}
		}
		return false
	}
}

// Policy is the fully parsed policy consumed by the engine. Parsing and
// persistence belong to the configuration layer; the engine only reads this.
type Policy struct {
	// Table is the ascending threshold table.
	Table ThresholdTable

	// EnableAdaptive enables the pressure-feedback adaptive path.
	EnableAdaptive bool
	// CapScore is the priority ceiling imposed when an adaptive shift is
	// armed and consumed.
	CapScore int
	// PressureArmLevel is the pressure level (0-100) at or above which the
	// adaptive shift may be armed.
	PressureArmLevel int
	// VMPressureFileMinKB is the pseudo free-file cutoff gating the adaptive
	// path; normally set above the table's most aggressive cutoff.
	VMPressureFileMinKB int64

	// FastScan keeps the per-zone file-page correction on the background
	// reclaimer fast path. When false, the fast path skips it for latency.
	FastScan bool

	// Exempt, when non-nil, protects matching process names while the
	// resolved minimum score is above ProtectScoreFloor.
	Exempt            ExemptFunc
	ProtectScoreFloor int

	// AdaptiveMaxTasks is the candidate window size for adaptive invocations.
	AdaptiveMaxTasks int
	// TaskBuckets is the window-size step function for ordinary invocations,
	// ordered by descending MinScore.
	TaskBuckets []TaskBucket
	// DefaultMaxTasks is used when no bucket matches.
	DefaultMaxTasks int

	// AdaptiveMinKillKB is the absolute size floor below which adaptive
	// invocations refuse to kill a candidate.
	AdaptiveMinKillKB int64
	// BigProcessKB triggers the busy-threads diagnostic when any scanned
	// process exceeds it.
	BigProcessKB int64
	// VeryImportantScore triggers the memory-info diagnostic when a victim
	// scores below it.
	VeryImportantScore int

	// KillCooldownBase is divided by the window size to produce the post-kill
	// cooldown duration.
	KillCooldownBase time.Duration
	// NoKillCooldown is the fixed cooldown after an invocation that found no
	// victim.
	NoKillCooldown time.Duration

	// DumpMemInterval rate-limits the memory-info diagnostic.
	DumpMemInterval time.Duration
	// DumpThreadsInterval rate-limits the busy-threads diagnostic.
	DumpThreadsInterval time.Duration

	// CandidateLogScore enables the per-candidate debug table when the
	// resolved score falls below it.
	CandidateLogScore int
	// CandidateLogInterval rate-limits emission of that table.
	CandidateLogInterval time.Duration

	// DebugLevel gates the chattier log lines; higher is chattier.
	DebugLevel int
}

// DefaultPolicy returns the stock policy. The threshold defaults mirror the
// classic 6/8/16/64 MB ladder; the bucket and floor values are tuning
// artifacts kept configurable on purpose.
func DefaultPolicy() *Policy {
	return &Policy{
		Table: ThresholdTable{
			{MinScore: 0, MinFreeKB: 6 * 1024},
			{MinScore: 1, MinFreeKB: 8 * 1024},
			{MinScore: 6, MinFreeKB: 16 * 1024},
			{MinScore: 12, MinFreeKB: 64 * 1024},
		},
		EnableAdaptive:      false,
		CapScore:            353,
		PressureArmLevel:    98,
		VMPressureFileMinKB: 0,
		FastScan:            true,
		ProtectScoreFloor:   200,
		AdaptiveMaxTasks:    2,
		TaskBuckets: []TaskBucket{
			{MinScore: 1000, MaxTasks: 1},
			{MinScore: 529, MaxTasks: 2},
			{MinScore: 300, MaxTasks: 4},
			{MinScore: 117, MaxTasks: 5},
		},
		DefaultMaxTasks:      6,
		AdaptiveMinKillKB:    80 * 1024,
		BigProcessKB:         600 * 1024,
		VeryImportantScore:   100,
		KillCooldownBase:     time.Second,
		NoKillCooldown:       2 * time.Second,
		DumpMemInterval:      60 * time.Second,
		DumpThreadsInterval:  120 * time.Second,
		CandidateLogScore:    300,
		CandidateLogInterval: 10 * time.Second,
		DebugLevel:           1,
	}
}

// maxTasks returns the candidate window size for this invocation.
func (p *Policy) maxTasks(resolvedScore int, adaptive bool) int {
	if adaptive {
		return p.AdaptiveMaxTasks
	}
	for _, b := range p.TaskBuckets {
		if resolvedScore >= b.MinScore {
			return b.MaxTasks
		}
	}
	return p.DefaultMaxTasks
}
