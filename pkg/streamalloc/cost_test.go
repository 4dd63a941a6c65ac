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

	"github.com/dfcompiler/streamalloc/pkg/config"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/stretchr/testify/require"
)

func TestCostUnits(t *testing.T) {
	g := graph.New("cost")
	multi := graph.New("multi")
	multi.MultiTask = true
	tasks := make(graph.TaskMap)

	ordinary := addNode(t, g, &graph.Node{Name: "ordinary", Type: "Conv2D", StreamID: 0})
	declared := addNode(t, g, &graph.Node{Name: "declared", Type: "Conv2D", StreamID: 0, TaskNum: 7})
	coll := addNode(t, g, &graph.Node{Name: "coll", Type: "HcomAllGather", StreamID: 0})
	sqe := addNode(t, g, &graph.Node{Name: "sqe", Type: "Conv2D", StreamID: 0, SQENum: 2})
	taskSQE := addNode(t, g, &graph.Node{Name: "taskSQE", Type: "Conv2D", StreamID: 0})
	tasks.Add(taskSQE, &graph.TaskDef{AttachedIndex: -1, SQENum: 1})
	tasks.Add(taskSQE, &graph.TaskDef{AttachedIndex: -1, SQENum: 3})
	host := addNode(t, g, &graph.Node{Name: "host", Type: "Shape", StreamID: graph.HostStreamID})
	send := addNode(t, g, &graph.Node{Name: "send", Type: graph.OpSend, StreamID: 0})
	kernel := addNode(t, multi, &graph.Node{Name: "kernel", Type: "Conv2D", StreamID: 0})
	multiColl := addNode(t, multi, &graph.Node{Name: "multiColl", Type: "HcomBroadcast", StreamID: 0})

	est := newCostEstimator(&config.CostConfig{NormalTaskNum: 3, CollectiveTaskNum: 245, MultiTaskFactor: 2}, tasks)
	testCases := []struct {
		node     *graph.Node
		expected int64
	}{
		{ordinary, 3},
		{declared, 7},
		{coll, 245},
		{sqe, 6},
		{taskSQE, 9},
		{host, 0},
		{send, 1},
		{kernel, 6},
		{multiColl, 245},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, est.units(tc.node), tc.node.Name)
	}
}

func TestSyncOverhead(t *testing.T) {
	g := graph.New("overhead")
	p1 := addNode(t, g, &graph.Node{Name: "p1", Type: "Conv2D", StreamID: 1})
	p2 := addNode(t, g, &graph.Node{Name: "p2", Type: "Conv2D", StreamID: 1})
	p3 := addNode(t, g, &graph.Node{Name: "p3", Type: "Conv2D", StreamID: 2})
	n := addNode(t, g, &graph.Node{Name: "n", Type: "Conv2D", StreamID: 0})
	c1 := addNode(t, g, &graph.Node{Name: "c1", Type: "Conv2D", StreamID: 3, AttachedStreamIDs: []int64{5, 6}})
	c2 := addNode(t, g, &graph.Node{Name: "c2", Type: "Conv2D", StreamID: 3})
	c3 := addNode(t, g, &graph.Node{Name: "c3", Type: "Conv2D", StreamID: 0})
	for _, p := range []*graph.Node{p1, p2, p3} {
		addEdge(t, g, p, n)
	}
	for _, c := range []*graph.Node{c1, c2, c3} {
		addEdge(t, g, n, c)
	}
	// two receives, one send to stream 3 and one send per attached stream
	require.Equal(t, int64(5), syncOverhead(n))
	require.Zero(t, syncOverhead(c3))
	require.Equal(t, int64(1), syncOverhead(p1))
}

func TestAttachedCost(t *testing.T) {
	g := graph.New("attached")
	p := addNode(t, g, &graph.Node{Name: "p", Type: "Conv2D", StreamID: 0})
	q := addNode(t, g, &graph.Node{Name: "q", Type: "Conv2D", StreamID: 1})
	c := addNode(t, g, &graph.Node{Name: "c", Type: "Conv2D", StreamID: 1, AttachedStreamIDs: []int64{5, 6}})
	addEdge(t, g, p, c)
	addEdge(t, g, q, c)
	tasks := make(graph.TaskMap)
	tasks.Add(c, &graph.TaskDef{Name: "main", AttachedIndex: -1, SQENum: 4})
	tasks.Add(c, &graph.TaskDef{Name: "aux0", AttachedIndex: 0, SQENum: 3})
	tasks.Add(c, &graph.TaskDef{Name: "aux1", AttachedIndex: 1})
	tasks.Add(c, &graph.TaskDef{Name: "aux2", AttachedIndex: 1})

	est := newCostEstimator(config.GetDefaultAllocatorConfig().Cost, tasks)
	// both producers feed every attached endpoint
	require.Equal(t, map[int64]int64{5: 5, 6: 4}, est.attachedCost(c))
	require.Nil(t, est.attachedCost(p))
}
