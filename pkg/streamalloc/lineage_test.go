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

package streamalloc

import (
	"testing"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLineage(t *testing.T) {
	l := NewLineage()
	l.Init(0)
	l.Init(1)
	l.Add(0, 2)
	l.Add(0, 3)
	l.Init(0)
	l.Alias(7, 1)

	require.Equal(t, 4, l.Len())
	require.Equal(t, []int64{0, 2, 3}, l.Fragments(0))
	require.Equal(t, []int64{5}, l.Fragments(5))
	require.Equal(t, int64(0), l.Logical(3))
	require.Equal(t, int64(9), l.Logical(9))
	require.Equal(t, []int64{1}, l.Resolve(7))
	require.Equal(t, []int64{0, 2, 3}, l.Resolve(0))
	require.Equal(t, map[int64]int64{0: 0, 1: 1, 2: 0, 3: 0}, l.Map())

	// fragments are returned as copies
	fragments := l.Fragments(0)
	fragments[0] = 100
	require.Equal(t, []int64{0, 2, 3}, l.Fragments(0))
}

func TestTaskStream(t *testing.T) {
	n := &graph.Node{Name: "n", StreamID: 4, AttachedStreamIDs: []int64{6, 9}}
	testCases := []struct {
		index    int
		expected int64
		err      bool
	}{
		{index: -1, expected: 4},
		{index: 0, expected: 6},
		{index: 1, expected: 9},
		{index: 2, err: true},
		{index: -2, err: true},
	}
	for _, tc := range testCases {
		stream, err := taskStream(n, &graph.TaskDef{Name: "t", AttachedIndex: tc.index})
		if tc.err {
			require.True(t, cerror.ErrInvalidInput.Equal(err), "index %d", tc.index)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.expected, stream)
	}
}

func TestInitMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NotPanics(t, func() { InitMetrics(registry) })
	require.Panics(t, func() { InitMetrics(registry) })
}
