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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lowmemd/lowmemd/pkg/config"
	"github.com/lowmemd/lowmemd/pkg/governor"
	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "lowmemd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReloadConfig(t *testing.T) {
	defer func() {
		config.StoreGlobalConfig(config.NewConfig())
		require.NoError(t, logutil.SetLevel("info"))
	}()
	engine := governor.NewEngine(nil, nil, nil, nil)

	path := writeConfig(t, `
[log]
level = "warn"
[governor]
debug-level = 2
`)
	require.NoError(t, reloadConfig(path, engine))
	require.Equal(t, 2, config.GetGlobalConfig().Governor.DebugLevel)
	require.Equal(t, "warn", config.GetGlobalConfig().Log.Level)
}

func TestReloadConfigRejectsBadFile(t *testing.T) {
	defer config.StoreGlobalConfig(config.NewConfig())
	engine := governor.NewEngine(nil, nil, nil, nil)
	before := config.GetGlobalConfig()

	bad := writeConfig(t, `
[governor]
scores = [0]
min-free = ["lots"]
`)
	require.Error(t, reloadConfig(bad, engine))
	// The global config only swaps after the new file validates.
	require.Same(t, before, config.GetGlobalConfig())

	require.Error(t, reloadConfig(filepath.Join(t.TempDir(), "absent.toml"), engine))
	require.Same(t, before, config.GetGlobalConfig())
}
