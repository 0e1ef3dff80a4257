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

// windowEntry is one ranked candidate with its scan-time score and size.
type windowEntry struct {
	proc   Process
	score  int
	sizeKB int64
}

// candidateWindow is a bounded, ordered sequence of at most capacity entries,
// best victim first. It is owned by a single invocation and backed by a
// fixed-capacity slice, so ranking allocates nothing per candidate.
type candidateWindow struct {
	adaptive bool
	entries  []windowEntry
	capacity int
}

func newCandidateWindow(capacity int, adaptive bool) *candidateWindow {
	return &candidateWindow{
		adaptive: adaptive,
		entries:  make([]windowEntry, 0, capacity),
		capacity: capacity,
	}
}

// ranksAbove reports whether a is a strictly better victim than b. In
// adaptive mode ranking is by resident size alone; otherwise by score, with
// size breaking ties.
func (w *candidateWindow) ranksAbove(a, b windowEntry) bool {
	if w.adaptive {
		return a.sizeKB > b.sizeKB
	}
	if a.score != b.score {
		return a.score > b.score
	}
	return a.sizeKB > b.sizeKB
}

// offer inserts the entry at its rank. When the window is full, a better
// candidate evicts the current worst entry; ties keep the incumbent.
func (w *candidateWindow) offer(e windowEntry) {
	pos := len(w.entries)
	for i := range w.entries {
		if w.ranksAbove(e, w.entries[i]) {
			pos = i
			break
		}
	}
	if pos == len(w.entries) {
		if len(w.entries) < w.capacity {
			w.entries = append(w.entries, e)
		}
		return
	}
	if len(w.entries) < w.capacity {
		w.entries = append(w.entries, windowEntry{})
	}
	copy(w.entries[pos+1:], w.entries[pos:])
	w.entries[pos] = e
}

func (w *candidateWindow) len() int { return len(w.entries) }
