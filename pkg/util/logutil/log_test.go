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

package logutil

import (
	"context"
	"testing"

	"github.com/pingcap/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestContextualLogger(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	ctx := context.WithValue(context.Background(), CtxLogKey, zap.New(core))
	ctx = WithFields(ctx, zap.String("component", "reclaim"), zap.Int("tier", 2))

	Logger(ctx).Info("victim selected")
	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "victim selected", entries[0].Message)
	fields := entries[0].ContextMap()
	require.Equal(t, "reclaim", fields["component"])
	require.Equal(t, int64(2), fields["tier"])
}

func TestWithFieldsNoFields(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	ctx := context.WithValue(context.Background(), CtxLogKey, zap.New(core))

	Logger(WithFields(ctx)).Info("plain")
	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Empty(t, entries[0].ContextMap())
}

func TestLoggerFallsBackToGlobal(t *testing.T) {
	require.Same(t, log.L(), Logger(context.Background()))
}

func TestSetLevel(t *testing.T) {
	conf := NewLogConfig("info", "text", NewFileLogConfig(DefaultLogMaxSize), false)
	require.NoError(t, InitLogger(conf))
	require.Equal(t, zap.InfoLevel, log.GetLevel())

	require.NoError(t, SetLevel("warn"))
	require.Equal(t, zap.WarnLevel, log.GetLevel())
	require.Error(t, SetLevel("chatty"))
	require.NoError(t, SetLevel("info"))
}
