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
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

// PressureWatcher polls the PSI memory pressure file and feeds levels in
// [0, 100] to a callback. It is the asynchronous pressure-event channel: it
// never takes the scan lock and never blocks on the engine.
type PressureWatcher struct {
	path     string
	interval time.Duration
	onLevel  func(level int)
}

// NewPressureWatcher builds a watcher over path (normally
// /proc/pressure/memory) ticking at interval.
func NewPressureWatcher(path string, interval time.Duration, onLevel func(int)) *PressureWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &PressureWatcher{path: path, interval: interval, onLevel: onLevel}
}

// Run polls until ctx is done. Read failures are logged once per tick and
// otherwise ignored; pressure delivery is best effort by design.
func (w *PressureWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			data, err := os.ReadFile(w.path)
			if err != nil {
				logutil.BgLogger().Debug("pressure file unavailable", zap.Error(err))
				continue
			}
			level, err := parsePressureLevel(data)
			if err != nil {
				logutil.BgLogger().Debug("pressure file unparsable", zap.Error(err))
				continue
			}
			w.onLevel(level)
		case <-ctx.Done():
			return
		}
	}
}

// parsePressureLevel extracts the "some avg10" percentage from PSI output
// and rounds it to an integer level in [0, 100].
func parsePressureLevel(data []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "some" {
			continue
		}
		for _, f := range fields[1:] {
			if !strings.HasPrefix(f, "avg10=") {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimPrefix(f, "avg10="), 64)
			if err != nil {
				return 0, errors.Trace(err)
			}
			level := int(v + 0.5)
			if level > 100 {
				level = 100
			}
			if level < 0 {
				level = 0
			}
			return level, nil
		}
	}
	return 0, errors.New("no some/avg10 line in pressure data")
}
