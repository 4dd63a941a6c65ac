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

	"github.com/dfcompiler/streamalloc/pkg/capacity"
	"github.com/dfcompiler/streamalloc/pkg/config"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/stretchr/testify/require"
)

func enableSingleStream(cfg *config.AllocatorConfig) {
	cfg.EnableSingleStream = true
}

func TestSingleStreamMerge(t *testing.T) {
	g := graph.New("single")
	a := addNode(t, g, &graph.Node{Name: "a", Type: "Conv2D", StreamID: 3})
	b := addNode(t, g, &graph.Node{Name: "b", Type: "Relu", StreamID: 5})
	c := addNode(t, g, &graph.Node{Name: "c", Type: "Add", StreamID: 7})
	addEdge(t, g, a, b)
	addEdge(t, g, b, c)

	result := mustRun(t, g, nil, testCapacity(), enableSingleStream)
	require.Equal(t, int64(1), result.StreamCount)
	require.Zero(t, result.EventCount)
	require.Empty(t, result.Dependencies)
	for _, n := range []*graph.Node{a, b, c} {
		require.Equal(t, int64(0), n.StreamID)
	}
	require.Len(t, result.Streams, 1)
	// merging removes the cross stream sends and receives
	require.Equal(t, int64(9), result.Streams[0].Cost)
}

func TestSingleStreamDisabled(t *testing.T) {
	g := graph.New("single")
	a := addNode(t, g, &graph.Node{Name: "a", Type: "Conv2D", StreamID: 3})
	b := addNode(t, g, &graph.Node{Name: "b", Type: "Relu", StreamID: 5})
	addEdge(t, g, a, b)

	result := mustRun(t, g, nil, testCapacity(), nil)
	require.Equal(t, int64(2), result.StreamCount)
	require.Equal(t, int64(3), a.StreamID)
	require.Equal(t, int64(5), b.StreamID)
	require.Equal(t, int64(1), result.EventCount)
}

func TestSingleStreamTooLarge(t *testing.T) {
	g, _ := buildChain(t, 10, func(i int) int64 { return int64(i % 2) }, 0)
	c := capacity.Capacity{MaxTaskPerStream: 1048, MaxStreamNum: 8, MaxTaskPerHugeStream: 20}
	result := mustRun(t, g, nil, c, enableSingleStream)
	require.Equal(t, int64(2), result.StreamCount)
}

func TestSplitKeepsFragmentsUnderCeiling(t *testing.T) {
	for _, ceiling := range []int64{8, 13, 50, 97} {
		g, _ := buildChain(t, 60, func(i int) int64 { return int64(i % 3) }, 2)
		before := streamMembers(g)
		c := capacity.Capacity{MaxTaskPerStream: ceiling, MaxStreamNum: 1024, MaxTaskPerHugeStream: 8096}
		result := mustRun(t, g, nil, c, nil)
		requireWithinCapacity(t, g, nil, result, c)
		requireOrderPreserved(t, result, before)
		requireDependenciesCovered(t, result)
		require.True(t, g.IsOrdered(), "ceiling %d", ceiling)
		require.Equal(t, int64(len(result.Streams)), result.StreamCount)
	}
}
