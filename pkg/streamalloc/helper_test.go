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
	"context"
	"fmt"
	"testing"

	"github.com/dfcompiler/streamalloc/pkg/capacity"
	"github.com/dfcompiler/streamalloc/pkg/config"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/stretchr/testify/require"
)

func testCapacity() capacity.Capacity {
	return capacity.Capacity{
		MaxTaskPerStream:     1048,
		MaxStreamNum:         1024,
		MaxTaskPerHugeStream: 8096,
	}
}

func addNode(t *testing.T, g *graph.Graph, n *graph.Node) *graph.Node {
	n, err := g.AddNode(n)
	require.NoError(t, err)
	return n
}

func addEdge(t *testing.T, g *graph.Graph, from, to *graph.Node) {
	require.NoError(t, g.AddEdge(from, to, graph.DataEdge))
}

func addControl(t *testing.T, g *graph.Graph, from, to *graph.Node) {
	require.NoError(t, g.AddEdge(from, to, graph.ControlEdge))
}

// buildChain adds a chain of n ordinary nodes to a new graph.
func buildChain(t *testing.T, n int, stream func(i int) int64, taskNum int64) (*graph.Graph, []*graph.Node) {
	g := graph.New("chain")
	nodes := make([]*graph.Node, 0, n)
	for i := 0; i < n; i++ {
		node := addNode(t, g, &graph.Node{
			Name:     fmt.Sprintf("n%d", i),
			Type:     "Conv2D",
			StreamID: stream(i),
			TaskNum:  taskNum,
		})
		if i > 0 {
			addEdge(t, g, nodes[i-1], node)
		}
		nodes = append(nodes, node)
	}
	return g, nodes
}

func onStream(id int64) func(int) int64 {
	return func(int) int64 { return id }
}

func run(
	t *testing.T, g *graph.Graph, tasks graph.TaskMap,
	c capacity.Capacity, adjust func(cfg *config.AllocatorConfig),
) (*Result, error) {
	cfg := config.GetDefaultAllocatorConfig()
	if adjust != nil {
		adjust(cfg)
	}
	return NewAllocator(cfg, capacity.NewStaticOracle(c)).Run(context.Background(), g, tasks)
}

func mustRun(
	t *testing.T, g *graph.Graph, tasks graph.TaskMap,
	c capacity.Capacity, adjust func(cfg *config.AllocatorConfig),
) *Result {
	result, err := run(t, g, tasks, c, adjust)
	require.NoError(t, err)
	return result
}

func nodeNames(nodes []*graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func depOf(t *testing.T, result *Result, producer, consumer string) *Dependency {
	for _, dep := range result.Dependencies {
		if dep.Producer.Node.Name == producer && dep.Consumer.Node.Name == consumer {
			return dep
		}
	}
	require.FailNow(t, "dependency not found", "%s -> %s", producer, consumer)
	return nil
}
