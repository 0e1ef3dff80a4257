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

// Package diag dispatches fire-and-forget diagnostic jobs to external
// tooling. The governor only emits "please dump now" signals; running the
// actual helper is this package's job and failures are logged only.
package diag

import (
	"context"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/metrics"
	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

// Kind identifies a diagnostic job type.
type Kind string

const (
	// KindMemInfo asks the helper to dump system memory info for a pid.
	KindMemInfo Kind = "dumpmem"
	// KindBusyThreads asks the helper to dump the busiest threads.
	KindBusyThreads Kind = "dumpbusythread"
)

// Job is one diagnostic request.
type Job struct {
	Kind Kind
	PID  int
}

// Dispatcher is the capability the governor calls without awaiting.
type Dispatcher interface {
	// Dispatch enqueues a job. It never blocks; jobs are dropped when the
	// queue is full.
	Dispatch(job Job)
}

// helperTimeout bounds a single helper invocation.
const helperTimeout = 30 * time.Second

// runner executes one job; swapped out in tests.
type runner func(ctx context.Context, helperPath string, job Job) error

func execHelper(ctx context.Context, helperPath string, job Job) error {
	cmd := exec.CommandContext(ctx, helperPath, string(job.Kind), strconv.Itoa(job.PID))
	return cmd.Run()
}

// HelperDispatcher runs jobs on a single background worker by invoking an
// external helper binary with the job kind and pid as arguments.
type HelperDispatcher struct {
	helperPath string
	jobs       chan Job
	run        runner
}

// NewHelperDispatcher builds a dispatcher for the given helper binary path.
func NewHelperDispatcher(helperPath string, queueLen int) *HelperDispatcher {
	if queueLen <= 0 {
		queueLen = 4
	}
	return &HelperDispatcher{
		helperPath: helperPath,
		jobs:       make(chan Job, queueLen),
		run:        execHelper,
	}
}

// Dispatch implements Dispatcher.
func (d *HelperDispatcher) Dispatch(job Job) {
	select {
	case d.jobs <- job:
	default:
		metrics.DiagnosticCounter.WithLabelValues(string(job.Kind), "dropped").Inc()
		logutil.BgLogger().Warn("diagnostic queue full, job dropped",
			zap.String("kind", string(job.Kind)), zap.Int("pid", job.PID))
	}
}

// Run drains the queue until ctx is done.
func (d *HelperDispatcher) Run(ctx context.Context) {
	for {
		select {
		case job := <-d.jobs:
			d.runOne(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (d *HelperDispatcher) runOne(ctx context.Context, job Job) {
	runCtx, cancel := context.WithTimeout(ctx, helperTimeout)
	defer cancel()
	start := time.Now()
	if err := d.run(runCtx, d.helperPath, job); err != nil {
		metrics.DiagnosticCounter.WithLabelValues(string(job.Kind), "error").Inc()
		logutil.BgLogger().Warn("diagnostic helper failed",
			zap.String("kind", string(job.Kind)),
			zap.Int("pid", job.PID),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return
	}
	metrics.DiagnosticCounter.WithLabelValues(string(job.Kind), "ok").Inc()
	logutil.BgLogger().Info("diagnostic helper finished",
		zap.String("kind", string(job.Kind)),
		zap.Int("pid", job.PID),
		zap.Duration("took", time.Since(start)))
}
