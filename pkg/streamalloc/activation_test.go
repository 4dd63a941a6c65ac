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
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestActivationMakesSyncUnnecessary(t *testing.T) {
	g := graph.New("active")
	a := addNode(t, g, &graph.Node{Name: "a", Type: "Conv2D", StreamID: 0})
	act := addNode(t, g, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 0, ActiveLabels: []string{"L"}})
	b := addNode(t, g, &graph.Node{Name: "b", Type: "Relu", StreamID: 1, StreamLabel: "L"})
	addEdge(t, g, a, b)
	addControl(t, g, act, b)

	result := mustRun(t, g, nil, testCapacity(), nil)
	require.Empty(t, result.Syncs)
	require.Zero(t, result.EventCount)
	require.Equal(t, []int64{1}, act.ActiveStreams)
	for _, producer := range []string{"a", "act"} {
		dep := depOf(t, result, producer, "b")
		require.Equal(t, ResolvedViaActivation, dep.State)
		require.Equal(t, ResolutionActivation, dep.Reason)
		require.Equal(t, []*graph.Node{act}, dep.Activators)
	}
	requireDependenciesCovered(t, result)
}

func TestActivationBeforeProducerNeedsSync(t *testing.T) {
	g := graph.New("active")
	act := addNode(t, g, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 0, ActiveLabels: []string{"L"}})
	a := addNode(t, g, &graph.Node{Name: "a", Type: "Conv2D", StreamID: 0})
	b := addNode(t, g, &graph.Node{Name: "b", Type: "Relu", StreamID: 1, StreamLabel: "L"})
	addEdge(t, g, a, b)

	result := mustRun(t, g, nil, testCapacity(), nil)
	require.Len(t, result.Syncs, 1)
	require.Equal(t, []int64{1}, act.ActiveStreams)
	dep := depOf(t, result, "a", "b")
	require.Equal(t, ResolvedViaEvent, dep.State)
	require.Equal(t, ResolutionDirect, dep.Reason)
}

func TestActivationInsideEarlierBranchNeedsSync(t *testing.T) {
	g := graph.New("root")
	branch := addNode(t, g, &graph.Node{Name: "if", Type: graph.OpIf, StreamID: 0})
	p := addNode(t, g, &graph.Node{Name: "p", Type: "Conv2D", StreamID: 0})
	c := addNode(t, g, &graph.Node{Name: "c", Type: "Relu", StreamID: 1})
	addControl(t, g, branch, p)
	addEdge(t, g, p, c)
	then, err := g.NewSubgraph(branch, "then")
	require.NoError(t, err)
	act := addNode(t, then, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 0, ActiveStreams: []int64{1}})

	result := mustRun(t, g, nil, testCapacity(), nil)
	require.Equal(t, []int64{1}, act.ActiveStreams)
	// the branch body runs before p, so act may start c too early
	require.Equal(t, int64(1), result.EventCount)
	require.Len(t, result.Syncs, 1)
	dep := depOf(t, result, "p", "c")
	require.Equal(t, ResolvedViaEvent, dep.State)
	require.Equal(t, ResolutionDirect, dep.Reason)
	requireDependenciesCovered(t, result)
}

func TestActivationInsideLaterBranch(t *testing.T) {
	g := graph.New("root")
	p := addNode(t, g, &graph.Node{Name: "p", Type: "Conv2D", StreamID: 0})
	branch := addNode(t, g, &graph.Node{Name: "if", Type: graph.OpIf, StreamID: 0})
	c := addNode(t, g, &graph.Node{Name: "c", Type: "Relu", StreamID: 1})
	addControl(t, g, p, branch)
	addEdge(t, g, p, c)
	then, err := g.NewSubgraph(branch, "then")
	require.NoError(t, err)
	act := addNode(t, then, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 0, ActiveStreams: []int64{1}})

	result := mustRun(t, g, nil, testCapacity(), nil)
	require.Zero(t, result.EventCount)
	dep := depOf(t, result, "p", "c")
	require.Equal(t, ResolvedViaActivation, dep.State)
	require.Equal(t, []*graph.Node{act}, dep.Activators)
	requireDependenciesCovered(t, result)
}

func TestActiveStreamsFollowSplit(t *testing.T) {
	g := graph.New("split")
	act := addNode(t, g, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 0, ActiveStreams: []int64{1}})
	var prev *graph.Node
	for _, name := range []string{"x1", "x2", "x3", "x4"} {
		n := addNode(t, g, &graph.Node{Name: name, Type: "Conv2D", StreamID: 1, StreamLabel: "body"})
		if prev != nil {
			addEdge(t, g, prev, n)
		}
		prev = n
	}
	switcher := addNode(t, g, &graph.Node{
		Name: "switch", Type: graph.OpStreamSwitch, StreamID: 0, ActiveLabels: []string{"body"},
	})

	c := capacity.Capacity{MaxTaskPerStream: 10, MaxStreamNum: 8, MaxTaskPerHugeStream: 100}
	result := mustRun(t, g, nil, c, nil)
	require.Equal(t, int64(3), result.StreamCount)
	require.Equal(t, int64(2), prev.StreamID)
	require.Equal(t, []int64{1, 2}, act.ActiveStreams)
	require.Equal(t, []int64{1, 2}, switcher.ActiveStreams)
}

func TestBranchActivation(t *testing.T) {
	g := graph.New("root")
	branch := addNode(t, g, &graph.Node{Name: "if", Type: graph.OpIf, StreamID: 0})
	then, err := g.NewSubgraph(branch, "then")
	require.NoError(t, err)
	first := addNode(t, then, &graph.Node{Name: "first", Type: graph.OpStreamActive, StreamID: 1, FirstActive: true})
	x := addNode(t, then, &graph.Node{Name: "x", Type: "Conv2D", StreamID: 2})
	call := addNode(t, then, &graph.Node{Name: "call", Type: graph.OpPartitionedCall, StreamID: 2})
	addControl(t, then, first, x)
	addEdge(t, then, x, call)
	body, err := then.NewSubgraph(call, "body")
	require.NoError(t, err)
	addNode(t, body, &graph.Node{Name: "z", Type: "Mul", StreamID: 3})
	els, err := g.NewSubgraph(branch, "else")
	require.NoError(t, err)
	addNode(t, els, &graph.Node{Name: "y", Type: "Relu", StreamID: 0})

	result := mustRun(t, g, nil, testCapacity(), nil)
	require.Equal(t, []int64{1}, branch.ActiveStreams)
	require.Equal(t, []int64{2, 3}, first.ActiveStreams)
	require.Empty(t, result.Syncs)
	dep := depOf(t, result, "first", "x")
	require.Equal(t, ResolvedViaActivation, dep.State)
	require.Equal(t, []*graph.Node{first}, dep.Activators)
}

func TestLoopActivation(t *testing.T) {
	g := graph.New("loop")
	sw := addNode(t, g, &graph.Node{Name: "switch", Type: graph.OpStreamSwitch, StreamID: 0, ActiveLabels: []string{"body"}})
	acc := addNode(t, g, &graph.Node{Name: "acc", Type: graph.OpAssignAdd, StreamID: 0})
	loop := addNode(t, g, &graph.Node{
		Name: "loop", Type: graph.OpStreamActive, StreamID: 0, IsLoopActive: true, ActiveStreams: []int64{2},
	})
	addNode(t, g, &graph.Node{Name: "x", Type: "Conv2D", StreamID: 1, StreamLabel: "body"})
	addNode(t, g, &graph.Node{Name: "y", Type: "Conv2D", StreamID: 2})
	addControl(t, g, sw, acc)
	addControl(t, g, acc, loop)

	mustRun(t, g, nil, testCapacity(), nil)
	require.Equal(t, []int64{1, 2}, sw.ActiveStreams)
	require.Equal(t, []int64{2}, loop.ActiveStreams)
}

func TestLoopActivationInheritsSwitchStreams(t *testing.T) {
	g := graph.New("loop")
	sw := addNode(t, g, &graph.Node{Name: "switch", Type: graph.OpStreamSwitch, StreamID: 0, ActiveLabels: []string{"body"}})
	loop := addNode(t, g, &graph.Node{Name: "loop", Type: graph.OpStreamActive, StreamID: 0, IsLoopActive: true})
	addNode(t, g, &graph.Node{Name: "x", Type: "Conv2D", StreamID: 1, StreamLabel: "body"})
	addControl(t, g, sw, loop)

	mustRun(t, g, nil, testCapacity(), nil)
	require.Equal(t, []int64{1}, sw.ActiveStreams)
	require.Equal(t, []int64{1}, loop.ActiveStreams)
}

func TestActivationErrors(t *testing.T) {
	testCases := []struct {
		name     string
		build    func(t *testing.T) *graph.Graph
		expected *errors.Error
		category cerror.Category
	}{
		{
			name: "unknown label",
			build: func(t *testing.T) *graph.Graph {
				g := graph.New("label")
				addNode(t, g, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 0, ActiveLabels: []string{"missing"}})
				addNode(t, g, &graph.Node{Name: "b", Type: "Relu", StreamID: 1, StreamLabel: "L"})
				return g
			},
			expected: cerror.ErrActiveLabelNotFound,
			category: cerror.CategoryInvalidInput,
		},
		{
			name: "branch body without stream active node",
			build: func(t *testing.T) *graph.Graph {
				g := graph.New("branch")
				branch := addNode(t, g, &graph.Node{Name: "if", Type: graph.OpIf, StreamID: 0})
				then, err := g.NewSubgraph(branch, "then")
				require.NoError(t, err)
				addNode(t, then, &graph.Node{Name: "y", Type: "Relu", StreamID: 3})
				return g
			},
			expected: cerror.ErrGraphInconsistent,
			category: cerror.CategoryGraphInconsistent,
		},
		{
			name: "loop without switch",
			build: func(t *testing.T) *graph.Graph {
				g := graph.New("loop")
				addNode(t, g, &graph.Node{Name: "loop", Type: graph.OpStreamActive, StreamID: 0, IsLoopActive: true})
				return g
			},
			expected: cerror.ErrLoopSwitchNotFound,
			category: cerror.CategoryGraphInconsistent,
		},
		{
			name: "switch activating nothing",
			build: func(t *testing.T) *graph.Graph {
				g := graph.New("switch")
				addNode(t, g, &graph.Node{Name: "switch", Type: graph.OpStreamSwitch, StreamID: 0, ActiveStreams: []int64{0}})
				return g
			},
			expected: cerror.ErrGraphInconsistent,
			category: cerror.CategoryGraphInconsistent,
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.build(t), nil, testCapacity(), nil)
			require.Error(t, err)
			require.True(t, cerror.Is(err, tc.expected), err.Error())
			require.Equal(t, tc.category, cerror.CategoryOf(err))
		})
	}
}

func TestSingleStreamResolvesMergedIDs(t *testing.T) {
	g := graph.New("single")
	act := addNode(t, g, &graph.Node{Name: "act", Type: graph.OpStreamActive, StreamID: 4, ActiveStreams: []int64{9}})
	addNode(t, g, &graph.Node{Name: "a", Type: "Conv2D", StreamID: 9})
	// more than a regular stream holds
	for _, name := range []string{"h1", "h2", "h3", "h4"} {
		addNode(t, g, &graph.Node{Name: name, Type: "Conv2D", StreamID: 7})
	}
	c := capacity.Capacity{MaxTaskPerStream: 10, MaxStreamNum: 8, MaxTaskPerHugeStream: 100}
	result, err := run(t, g, nil, c, enableSingleStream)
	require.NoError(t, err)

	// 7 keeps its own stream, 4 and 9 are merged on the lowest stream
	require.Equal(t, int64(0), act.StreamID)
	require.Equal(t, []int64{1, 2}, physicalOf(result, 1))
	require.Empty(t, act.ActiveStreams)
}
