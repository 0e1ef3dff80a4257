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

// Process is one live process as seen by the candidate scanner. Score and
// ResidentKB read current values, so the terminator can re-validate a
// candidate that may have changed state since scan time.
type Process interface {
	PID() int
	Name() string
	// IsKernelHelper marks kernel-owned helper tasks, never candidates.
	IsKernelHelper() bool
	// IsDying reports whether the process is already marked for termination.
	IsDying() bool
	// Score returns the current priority score: higher is more killable.
	Score() (int, error)
	// ResidentKB returns the current resident set size in kilobytes.
	ResidentKB() (int64, error)
	// MarkDying flags the process so later invocations skip it.
	MarkDying()
	// Kill delivers an uncatchable termination request.
	Kill() error
}

// ProcessSource enumerates the live process set at scan time.
type ProcessSource interface {
	Processes() ([]Process, error)
}

// SnapshotSource produces a fresh raw memory snapshot.
type SnapshotSource interface {
	Snapshot() (*MemorySnapshot, error)
}
