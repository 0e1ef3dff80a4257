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

// Package governor decides whether any process should be killed to reclaim
// memory, which ones, and how aggressively, while avoiding both over-killing
// and under-killing. Obtaining memory-zone statistics, enumerating live
// processes, delivering the kill and running external diagnostics are all
// external collaborators; the engine consumes them through small interfaces.
package governor

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/diag"
	"github.com/lowmemd/lowmemd/pkg/metrics"
	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

// candidateLineMax bounds the debug candidate table; the scan holds the scan
// lock while recording, so hosts with huge process counts must not allocate
// without limit.
const candidateLineMax = 256

// Engine is the victim-selection engine. All decision state lives here: the
// adaptive one-shot flag, the throttle cooldowns and the diagnostic rate
// limits. Per-invocation state (snapshot, candidate window) is discarded at
// the end of each invocation.
type Engine struct {
	policy   atomic.Pointer[Policy]
	snaps    SnapshotSource
	procs    ProcessSource
	dispatch diag.Dispatcher

	adaptive adaptiveState
	throttle *throttleState
	counters counters

	// scanSem serializes scan/rank/terminate cycles. Acquisition is
	// interruptible: an invocation that cannot take it reports zero
	// reclaimed rather than block a caller that is itself under pressure.
	scanSem chan struct{}

	pageKB  int64
	selfPID int
	nowFn   func() time.Time

	// Diagnostic rate limits, mutated only under the scan lock.
	nextDumpMem      time.Time
	nextDumpThreads  time.Time
	nextCandidateLog time.Time
}

// NewEngine builds an engine. dispatcher may be nil to disable diagnostics.
func NewEngine(policy *Policy, snaps SnapshotSource, procs ProcessSource, dispatcher diag.Dispatcher) *Engine {
	e := &Engine{
		snaps:    snaps,
		procs:    procs,
		dispatch: dispatcher,
		throttle: newThrottleState(),
		scanSem:  make(chan struct{}, 1),
		pageKB:   int64(os.Getpagesize() / 1024),
		selfPID:  os.Getpid(),
		nowFn:    time.Now,
	}
	if e.pageKB <= 0 {
		e.pageKB = 4
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	e.policy.Store(policy)
	return e
}

// SetPolicy swaps in a new parsed policy; in-flight invocations keep the one
// they started with.
func (e *Engine) SetPolicy(p *Policy) {
	if p != nil {
		e.policy.Store(p)
	}
}

func (e *Engine) now() time.Time { return e.nowFn() }

// available reduces a raw snapshot to the caller-visible free and file
// totals, in KB.
func (e *Engine) available(snap *MemorySnapshot, ac AllocContext, p *Policy) (otherFreeKB, otherFileKB int64) {
	freePages, filePages := estimateAvailable(snap, ac, p.FastScan)
	return freePages * e.pageKB, filePages * e.pageKB
}

// EstimateReclaimable returns a cheap, lock-free aggregate count of
// reclaimable pages. Bookkeeping only; never used for decisions.
func (e *Engine) EstimateReclaimable() int64 {
	snap, err := e.snaps.Snapshot()
	if err != nil {
		return 0
	}
	return snap.ActiveAnonPages + snap.InactiveAnonPages +
		snap.ActiveFilePages + snap.InactiveFilePages
}

// Reclaim runs one full decision cycle and returns the number of pages
// reclaimed, possibly zero. Zero is also returned when a cooldown gate is
// closed, when no threshold matches, or when the scan lock cannot be taken
// before ctx is done; those outcomes only differ in escape-counter buckets.
func (e *Engine) Reclaim(ctx context.Context, ac AllocContext) int64 {
	p := e.policy.Load()
	logger := logutil.Logger(ctx)

	// Cooldown gates run before any scan work, on a private snapshot and the
	// current table, so a suppressed invocation never touches the scan lock.
	snap, err := e.snaps.Snapshot()
	if err != nil {
		logger.Warn("memory snapshot unavailable", zap.Error(err))
		return 0
	}
	freeKB, fileKB := e.available(snap, ac, p)
	gateScore := p.Table.Resolve(freeKB, fileKB)
	now := e.now()
	if e.throttle.killGateClosed(gateScore, now) {
		e.counters.escapeThrottled.Inc()
		return 0
	}
	if e.throttle.noKillGateClosed(gateScore, now) {
		e.counters.escapeQuiesced.Inc()
		return 0
	}

	select {
	case e.scanSem <- struct{}{}:
	case <-ctx.Done():
		e.counters.escapeLockAbort.Inc()
		return 0
	}
	defer func() { <-e.scanSem }()

	e.counters.scans.Inc()

	// Re-snapshot under the lock; the gate snapshot may already be stale.
	snap, err = e.snaps.Snapshot()
	if err != nil {
		logger.Warn("memory snapshot unavailable", zap.Error(err))
		return 0
	}
	freeKB, fileKB = e.available(snap, ac, p)
	minScore := p.Table.Resolve(freeKB, fileKB)
	minScore, isAdaptive := e.adjustMinScore(minScore)
	if minScore == ScoreKillNothing {
		e.counters.escapeNoMatch.Inc()
		if p.DebugLevel >= 3 {
			logger.Debug("no threshold matched",
				zap.Int64("otherFreeKB", freeKB), zap.Int64("otherFileKB", fileKB))
		}
		return 0
	}
	metrics.ResolvedScoreGauge.Set(float64(minScore))

	nTask := p.maxTasks(minScore, isAdaptive)
	scan, err := e.scanCandidates(ctx, p, minScore, isAdaptive, nTask)
	if err != nil {
		logger.Warn("process scan failed", zap.Error(err))
		return 0
	}

	reclaimedKB := e.terminate(ctx, p, scan, minScore, isAdaptive, nTask, freeKB, fileKB)
	e.sideEffects(p, scan, minScore)

	e.counters.reclaimedKB.Add(reclaimedKB)
	return reclaimedKB / e.pageKB
}

// candidateLine is one row of the debug candidate table.
type candidateLine struct {
	pid    int
	sizeKB int64
	score  int
	name   string
}

// scanOutcome is the per-invocation result of walking the process table.
type scanOutcome struct {
	window *candidateWindow

	biggestPID    int
	biggestSizeKB int64

	// bigProcessPID is set when any observed process exceeds the big-process
	// size threshold.
	bigProcessPID int

	lines []candidateLine
}

// scanCandidates walks the live process set, filters ineligible processes
// and keeps a bounded top-nTask window ordered by kill priority. Failures to
// read a single process are skipped; they never abort the scan.
func (e *Engine) scanCandidates(ctx context.Context, p *Policy, minScore int, isAdaptive bool, nTask int) (*scanOutcome, error) {
	procs, err := e.procs.Processes()
	if err != nil {
		return nil, err
	}
	logger := logutil.Logger(ctx)
	out := &scanOutcome{window: newCandidateWindow(nTask, isAdaptive)}
	recordLines := minScore < p.CandidateLogScore
	for _, proc := range procs {
		if proc.IsKernelHelper() || proc.IsDying() {
			continue
		}
		score, err := proc.Score()
		if err != nil {
			continue
		}
		sizeKB, err := proc.ResidentKB()
		if err != nil {
			continue
		}
		if sizeKB <= 0 {
			// Memory already released.
			continue
		}
		if recordLines && len(out.lines) < candidateLineMax {
			out.lines = append(out.lines, candidateLine{
				pid: proc.PID(), sizeKB: sizeKB, score: score, name: proc.Name(),
			})
		}
		if sizeKB > out.biggestSizeKB {
			out.biggestSizeKB = sizeKB
			out.biggestPID = proc.PID()
		}
		if sizeKB > p.BigProcessKB {
			out.bigProcessPID = proc.PID()
			if p.DebugLevel >= 1 {
				logger.Info("oversized process observed",
					zap.Int("pid", proc.PID()),
					zap.String("name", proc.Name()),
					zap.Int64("residentKB", sizeKB),
					zap.Int("score", score))
			}
		}
		// Critical user-facing services are exempt under moderate pressure
		// only; severe pressure (low resolved score) still selects them.
		if p.Exempt != nil && minScore > p.ProtectScoreFloor && p.Exempt(proc.Name()) {
			continue
		}
		if score < minScore {
			continue
		}
		out.window.offer(windowEntry{proc: proc, score: score, sizeKB: sizeKB})
	}
	return out, nil
}

// terminate walks the window best-victim first, re-validates each candidate
// and signals termination. Returns the reclaimed resident total in KB and
// updates the cooldown state accordingly.
func (e *Engine) terminate(ctx context.Context, p *Policy, scan *scanOutcome, minScore int, isAdaptive bool, nTask int, freeKB, fileKB int64) int64 {
	var reclaimedKB int64
	killed := 0
	lowestVictimScore := ScoreKillNothing
	logger := logutil.Logger(ctx)

	for i := range scan.window.entries {
		victim := scan.window.entries[i].proc
		if victim.IsDying() {
			continue
		}
		if victim.PID() == e.selfPID {
			logger.Info("skip killing self",
				zap.Int("pid", victim.PID()), zap.String("name", victim.Name()))
			continue
		}
		curScore, err := victim.Score()
		if err != nil {
			continue
		}
		if curScore < minScore {
			if p.DebugLevel >= 1 {
				logger.Info("skip killing, score fell below minimum",
					zap.Int("pid", victim.PID()),
					zap.String("name", victim.Name()),
					zap.Int("score", curScore),
					zap.Int("minScore", minScore))
			}
			continue
		}
		curKB, err := victim.ResidentKB()
		if err != nil {
			continue
		}
		if isAdaptive && curKB < p.AdaptiveMinKillKB {
			logger.Info("skip killing, below adaptive size floor",
				zap.Int("pid", victim.PID()),
				zap.String("name", victim.Name()),
				zap.Int64("residentKB", curKB),
				zap.Int64("floorKB", p.AdaptiveMinKillKB))
			continue
		}

		reason := fmt.Sprintf("cache %dkB (file-shmem-swapcache) is below limit %dkB for score %d",
			fileKB, p.Table.cutoffFor(minScore), minScore)
		if isAdaptive {
			reason = fmt.Sprintf("adaptive shift clamped minimum score to %d, cache %dkB", minScore, fileKB)
		}

		victim.MarkDying()
		if err := victim.Kill(); err != nil {
			logger.Warn("termination request failed",
				zap.Int("pid", victim.PID()), zap.Error(err))
		}
		logger.Info("killing process",
			zap.Int("pid", victim.PID()),
			zap.String("name", victim.Name()),
			zap.Int("score", curScore),
			zap.Int64("toFreeKB", curKB),
			zap.String("reason", reason),
			zap.Int64("otherFreeKB", freeKB),
			zap.Int64("otherFileKB", fileKB))

		reclaimedKB += curKB
		killed++
		e.counters.kills.Inc()
		lowestVictimScore = min(lowestVictimScore, curScore)

		// The more victims a window may hold, the shorter the cooldown:
		// severe pressure must be allowed to re-decide sooner.
		e.throttle.recordKill(minScore, e.now().Add(p.KillCooldownBase/time.Duration(nTask)))
	}

	if killed == 0 {
		e.throttle.recordNoKill(minScore, e.now().Add(p.NoKillCooldown))
		return 0
	}

	if lowestVictimScore < p.VeryImportantScore {
		e.dispatchDump(diag.Job{Kind: diag.KindMemInfo, PID: scan.biggestPID})
	}
	e.logCandidateTable(ctx, p, scan, minScore)
	return reclaimedKB
}

// sideEffects fires the rate-limited busy-threads diagnostic for oversized
// processes observed during the scan.
func (e *Engine) sideEffects(p *Policy, scan *scanOutcome, _ int) {
	if scan.bigProcessPID == 0 {
		return
	}
	now := e.now()
	if now.Before(e.nextDumpThreads) {
		return
	}
	e.nextDumpThreads = now.Add(p.DumpThreadsInterval)
	if e.dispatch != nil {
		e.dispatch.Dispatch(diag.Job{Kind: diag.KindBusyThreads, PID: scan.bigProcessPID})
	}
}

func (e *Engine) dispatchDump(job diag.Job) {
	now := e.now()
	if now.Before(e.nextDumpMem) {
		return
	}
	p := e.policy.Load()
	e.nextDumpMem = now.Add(p.DumpMemInterval)
	if e.dispatch != nil {
		e.dispatch.Dispatch(job)
	}
}

// logCandidateTable emits the PID/RSS/score table recorded during a
// moderate-pressure scan, at most once per interval.
func (e *Engine) logCandidateTable(ctx context.Context, p *Policy, scan *scanOutcome, minScore int) {
	if minScore >= p.CandidateLogScore || len(scan.lines) == 0 {
		return
	}
	now := e.now()
	if now.Before(e.nextCandidateLog) {
		return
	}
	e.nextCandidateLog = now.Add(p.CandidateLogInterval)
	logger := logutil.Logger(ctx)
	logger.Info("candidate table", zap.Int("minScore", minScore))
	for _, l := range scan.lines {
		logger.Info(fmt.Sprintf("%6d %10dkB %6d %s", l.pid, l.sizeKB, l.score, l.name))
	}
}

// cutoffFor returns the free-memory cutoff of the entry that carries score,
// for log context only. Zero when the score came from the adaptive clamp.
func (t ThresholdTable) cutoffFor(score int) int64 {
	for _, entry := range t {
		if entry.MinScore == score {
			return entry.MinFreeKB
		}
	}
	return 0
}
