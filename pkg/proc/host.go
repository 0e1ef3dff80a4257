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

// Package proc implements the governor's external collaborators on top of
// the proc filesystem: the live-process feed, the memory snapshot feed and
// SIGKILL delivery.
package proc

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/lowmemd/lowmemd/pkg/governor"
)

// pfKernelThread is the PF_KTHREAD task flag.
const pfKernelThread = 0x00200000

// dyingTTL bounds how long a pid stays in the dying set; by then the kill
// has either completed or the pid was reused.
const dyingTTL = 30 * time.Second

// Host reads the live process set and memory counters from a proc
// filesystem mount. It implements governor.ProcessSource and
// governor.SnapshotSource.
type Host struct {
	fs     procfs.FS
	root   string
	pageKB int64

	mu    sync.Mutex
	dying map[int]time.Time
}

// NewHost opens the proc filesystem at root (normally "/proc").
func NewHost(root string) (*Host, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Annotate(err, "open procfs")
	}
	pageKB := int64(os.Getpagesize() / 1024)
	if pageKB <= 0 {
		pageKB = 4
	}
	return &Host{
		fs:     fs,
		root:   root,
		pageKB: pageKB,
		dying:  make(map[int]time.Time),
	}, nil
}

// Processes implements governor.ProcessSource.
func (h *Host) Processes() ([]governor.Process, error) {
	procs, err := h.fs.AllProcs()
	if err != nil {
		return nil, errors.Annotate(err, "list processes")
	}
	out := make([]governor.Process, 0, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			// The process exited between listing and reading; skip it.
			continue
		}
		out = append(out, &process{
			host:   h,
			proc:   p,
			name:   stat.Comm,
			kernel: stat.Flags&pfKernelThread != 0,
		})
	}
	return out, nil
}

func (h *Host) markDying(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for p, t := range h.dying {
		if now.Sub(t) > dyingTTL {
			delete(h.dying, p)
		}
	}
	h.dying[pid] = now
}

func (h *Host) isDying(pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.dying[pid]
	if !ok {
		return false
	}
	if time.Since(t) > dyingTTL {
		delete(h.dying, pid)
		return false
	}
	return true
}

// process is one live process handle. Score and ResidentKB read current
// values from the proc filesystem on every call, so the terminator's
// re-validation observes post-scan changes.
type process struct {
	host   *Host
	proc   procfs.Proc
	name   string
	kernel bool
}

func (p *process) PID() int             { return p.proc.PID }
func (p *process) Name() string         { return p.name }
func (p *process) IsKernelHelper() bool { return p.kernel }

func (p *process) IsDying() bool {
	if p.host.isDying(p.proc.PID) {
		return true
	}
	stat, err := p.proc.Stat()
	if err != nil {
		return true
	}
	return stat.State == "Z" || stat.State == "X"
}

func (p *process) Score() (int, error) {
	return readScore(p.host.root, p.proc.PID)
}

func (p *process) ResidentKB() (int64, error) {
	stat, err := p.proc.Stat()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int64(stat.RSS) * p.host.pageKB, nil
}

func (p *process) MarkDying() {
	p.host.markDying(p.proc.PID)
}

// Kill delivers SIGKILL, the uncatchable termination request.
func (p *process) Kill() error {
	if err := unix.Kill(p.proc.PID, unix.SIGKILL); err != nil {
		return errors.Annotatef(err, "kill pid %d", p.proc.PID)
	}
	return nil
}

// readScore reads the priority score (oom_score_adj) of a pid.
func readScore(root string, pid int) (int, error) {
	path := fmt.Sprintf("%s/%d/oom_score_adj", root, pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Trace(err)
	}
	data = bytes.TrimSpace(data)
	score, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, errors.Annotatef(err, "parse %s", path)
	}
	return score, nil
}
