// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/dfcompiler/streamalloc/pkg/capacity"
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultAllocatorConfig(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultAllocatorConfig()
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, SyncModeEvent, cfg.SyncMode)
	require.Equal(t, int64(3), cfg.Cost.NormalTaskNum)
	require.Equal(t, int64(245), cfg.Cost.CollectiveTaskNum)
	require.Equal(t, int64(1048), cfg.Capacity.MaxTaskPerStream)

	// The default config is never shared.
	cfg.Cost.NormalTaskNum = 100
	require.Equal(t, int64(3), GetDefaultAllocatorConfig().Cost.NormalTaskNum)
	require.Contains(t, cfg.String(), "normal-task-num = 100")
}

func TestValidateAndAdjust(t *testing.T) {
	t.Parallel()

	cfg := &AllocatorConfig{MaxEventNum: 10, MaxNotifyNum: 10}
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, SyncModeEvent, cfg.SyncMode)
	require.NotNil(t, cfg.Cost)
	require.NotNil(t, cfg.Capacity)
	require.Equal(t, "info", cfg.Log.Level)

	testCases := []struct {
		adjust func(c *AllocatorConfig)
		msg    string
	}{
		{func(c *AllocatorConfig) { c.SyncMode = "barrier" }, "sync-mode"},
		{func(c *AllocatorConfig) { c.MaxEventNum = 0 }, "max-event-num"},
		{func(c *AllocatorConfig) { c.MaxNotifyNum = -1 }, "max-notify-num"},
		{func(c *AllocatorConfig) { c.Cost.NormalTaskNum = 0 }, "normal-task-num"},
		{func(c *AllocatorConfig) { c.Cost.CollectiveTaskNum = 0 }, "collective-task-num"},
		{func(c *AllocatorConfig) { c.Cost.MultiTaskFactor = -2 }, "multi-task-factor"},
		{func(c *AllocatorConfig) { c.Capacity.MaxTaskPerStream = 0 }, "max-task-per-stream"},
		{func(c *AllocatorConfig) { c.Capacity.MaxStreamNum = 0 }, "max-stream-num"},
		{func(c *AllocatorConfig) { c.Capacity.MaxTaskPerHugeStream = -1 }, "max-task-per-huge-stream"},
	}
	for _, tc := range testCases {
		cfg := GetDefaultAllocatorConfig()
		tc.adjust(cfg)
		err := cfg.ValidateAndAdjust()
		require.True(t, cerror.ErrInvalidConfig.Equal(err), tc.msg)
		require.Contains(t, err.Error(), tc.msg)
	}

	cfg = GetDefaultAllocatorConfig()
	cfg.Cost.MultiTaskFactor = 0
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, int64(1), cfg.Cost.MultiTaskFactor)

	// Static values are ignored when the capacity comes from a file.
	cfg = GetDefaultAllocatorConfig()
	cfg.Capacity = &CapacityConfig{File: "device.toml"}
	require.NoError(t, cfg.ValidateAndAdjust())
}

func TestDecodeTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "allocator.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync-mode = "notify"
enable-single-stream = true

[cost]
normal-task-num = 5

[capacity]
max-task-per-stream = 2000
`), 0o644))

	cfg := GetDefaultAllocatorConfig()
	_, err := toml.DecodeFile(path, cfg)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, SyncModeNotify, cfg.SyncMode)
	require.True(t, cfg.EnableSingleStream)
	require.Equal(t, int64(5), cfg.Cost.NormalTaskNum)
	require.Equal(t, int64(245), cfg.Cost.CollectiveTaskNum)
	require.Equal(t, int64(2000), cfg.Capacity.MaxTaskPerStream)
	require.Equal(t, int64(1024), cfg.Capacity.MaxStreamNum)
}

func TestCapacityOracle(t *testing.T) {
	t.Parallel()

	c := &CapacityConfig{MaxTaskPerStream: 10, MaxStreamNum: 2}
	oracle, ok := c.Oracle().(*capacity.StaticOracle)
	require.True(t, ok)
	require.NotNil(t, oracle)

	c.File = "device.toml"
	_, ok = c.Oracle().(*capacity.FileOracle)
	require.True(t, ok)
}
