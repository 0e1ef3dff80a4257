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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPressureWatcherDeliversLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory")
	require.NoError(t, os.WriteFile(path,
		[]byte("some avg10=98.20 avg60=50.00 avg300=10.00 total=99\n"), 0o644))

	levels := make(chan int, 1)
	w := NewPressureWatcher(path, 5*time.Millisecond, func(level int) {
		select {
		case levels <- level:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case level := <-levels:
		require.Equal(t, 98, level)
	case <-time.After(5 * time.Second):
		t.Fatal("no pressure level delivered")
	}
	cancel()
	<-done
}
