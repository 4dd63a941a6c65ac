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

package capacity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

type failingOracle struct {
	err   error
	calls int
}

func (o *failingOracle) QueryCapacity(context.Context) (Capacity, error) {
	o.calls++
	return Capacity{}, o.err
}

func TestStaticOracle(t *testing.T) {
	t.Parallel()

	c := Capacity{MaxTaskPerStream: 1048, MaxStreamNum: 1024, MaxTaskPerHugeStream: 8096}
	got, err := Query(context.Background(), NewStaticOracle(c))
	require.NoError(t, err)
	require.Equal(t, c, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Query(ctx, NewStaticOracle(c))
	require.True(t, cerror.Is(err, cerror.ErrCapacityQueryFailed))
}

func TestQueryFailures(t *testing.T) {
	t.Parallel()

	_, err := Query(context.Background(), nil)
	require.Equal(t, cerror.CategoryCapacityQueryFailed, cerror.CategoryOf(err))

	busy := &failingOracle{err: errors.New("device is busy")}
	_, err = Query(context.Background(), busy)
	require.True(t, cerror.Is(err, cerror.ErrCapacityQueryFailed))
	require.Contains(t, err.Error(), "device is busy")
	require.Equal(t, 1, busy.calls)

	testCases := []Capacity{
		{MaxTaskPerStream: 0, MaxStreamNum: 10},
		{MaxTaskPerStream: 10, MaxStreamNum: -1},
		{MaxTaskPerStream: 10, MaxStreamNum: 10, MaxTaskPerHugeStream: -5},
	}
	for _, c := range testCases {
		_, err := Query(context.Background(), NewStaticOracle(c))
		require.True(t, cerror.Is(err, cerror.ErrCapacityQueryFailed), "%+v", c)
		require.True(t, cerror.Is(err, cerror.ErrInvalidCapacity), "%+v", c)
		require.Equal(t, cerror.CategoryCapacityQueryFailed, cerror.CategoryOf(err))
	}
}

func TestFileOracle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "device.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
max-task-per-stream = 1048
max-stream-num = 2048
max-task-per-huge-stream = 8096
`), 0o644))
	c, err := Query(context.Background(), NewFileOracle(tomlPath))
	require.NoError(t, err)
	require.Equal(t, Capacity{MaxTaskPerStream: 1048, MaxStreamNum: 2048, MaxTaskPerHugeStream: 8096}, c)

	jsonPath := filepath.Join(dir, "device.json")
	require.NoError(t, os.WriteFile(jsonPath,
		[]byte(`{"max-task-per-stream": 500, "max-stream-num": 16}`), 0o644))
	c, err = Query(context.Background(), NewFileOracle(jsonPath))
	require.NoError(t, err)
	require.Equal(t, Capacity{MaxTaskPerStream: 500, MaxStreamNum: 16}, c)

	_, err = Query(context.Background(), NewFileOracle(filepath.Join(dir, "missing.toml")))
	require.True(t, cerror.Is(err, cerror.ErrCapacityQueryFailed))

	badPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badPath, []byte("max-stream-num = \"x\""), 0o644))
	_, err = Query(context.Background(), NewFileOracle(badPath))
	require.True(t, cerror.Is(err, cerror.ErrCapacityQueryFailed))
}

func TestFileOracleWaitsForFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device.toml")
	go func() {
		time.Sleep(fileRetryInterval / 2)
		tmp := path + ".tmp"
		_ = os.WriteFile(tmp, []byte("max-task-per-stream = 8\nmax-stream-num = 4\n"), 0o644)
		_ = os.Rename(tmp, path)
	}()
	c, err := Query(context.Background(), NewFileOracle(path))
	require.NoError(t, err)
	require.Equal(t, Capacity{MaxTaskPerStream: 8, MaxStreamNum: 4}, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Query(ctx, NewFileOracle(filepath.Join(t.TempDir(), "missing.toml")))
	require.True(t, cerror.Is(err, cerror.ErrCapacityQueryFailed))
	require.ErrorIs(t, err, context.Canceled)
}
