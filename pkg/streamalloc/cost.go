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
	"github.com/dfcompiler/streamalloc/pkg/config"
	"github.com/dfcompiler/streamalloc/pkg/graph"
)

// costEstimator estimates how many hardware tasks a node puts on its
// primary stream.
type costEstimator struct {
	cfg   *config.CostConfig
	tasks graph.TaskMap
}

func newCostEstimator(cfg *config.CostConfig, tasks graph.TaskMap) *costEstimator {
	return &costEstimator{cfg: cfg, tasks: tasks}
}

// units returns the task number of n without synchronization. A declared
// task number wins over the defaults of the node kind, and the result is
// scaled by the secondary queue entries each task takes.
func (e *costEstimator) units(n *graph.Node) int64 {
	if n.IsHostOnly() {
		return 0
	}
	if n.IsSync() {
		return 1
	}
	units := n.TaskNum
	if units <= 0 {
		if n.Kind == graph.KindCollective {
			units = e.cfg.CollectiveTaskNum
		} else {
			units = e.cfg.NormalTaskNum
			if isMultiTask(n) {
				units *= e.cfg.MultiTaskFactor
			}
		}
	}
	return units * e.sqe(n)
}

func (e *costEstimator) sqe(n *graph.Node) int64 {
	sqe := n.SQENum
	if sqe <= 0 {
		for _, t := range e.tasks[n.ID] {
			if t.SQENum > sqe {
				sqe = t.SQENum
			}
		}
	}
	if sqe < 1 {
		sqe = 1
	}
	return sqe
}

func isMultiTask(n *graph.Node) bool {
	g := n.Graph()
	return g != nil && (g.MultiTask || g.Root().MultiTask)
}

// syncOverhead counts the receive and send tasks n will need with the
// current stream assignment: one receive per other primary stream feeding
// it, one send per other primary stream it feeds and one send per attached
// stream endpoint it feeds.
func syncOverhead(n *graph.Node) int64 {
	if n.IsHostOnly() || n.IsSync() {
		return 0
	}
	g := n.Graph()
	recvFrom := make(map[int64]struct{})
	for _, e := range g.InEdges(n) {
		p := e.From
		if p.IsHostOnly() || p.IsSync() || p.StreamID == n.StreamID {
			continue
		}
		recvFrom[p.StreamID] = struct{}{}
	}
	type endpoint struct {
		node   *graph.Node
		stream int64
	}
	sendTo := make(map[int64]struct{})
	attachedTo := make(map[endpoint]struct{})
	for _, e := range g.OutEdges(n) {
		c := e.To
		if c.IsHostOnly() || c.IsSync() {
			continue
		}
		if c.StreamID != n.StreamID {
			sendTo[c.StreamID] = struct{}{}
		}
		for _, a := range c.AttachedStreamIDs {
			attachedTo[endpoint{node: c, stream: a}] = struct{}{}
		}
	}
	return int64(len(recvFrom) + len(sendTo) + len(attachedTo))
}

// attachedCost estimates the tasks n puts on every attached stream it runs
// on, keyed by attached stream id: its attached tasks scaled by their
// secondary queue entries, plus one receive per other stream feeding it.
func (e *costEstimator) attachedCost(n *graph.Node) map[int64]int64 {
	if n.IsHostOnly() || n.IsSync() || len(n.AttachedStreamIDs) == 0 {
		return nil
	}
	costs := make(map[int64]int64, len(n.AttachedStreamIDs))
	for _, a := range n.AttachedStreamIDs {
		costs[a] = 0
	}
	for _, t := range e.tasks[n.ID] {
		if t.AttachedIndex < 0 || t.AttachedIndex >= len(n.AttachedStreamIDs) {
			continue
		}
		sqe := t.SQENum
		if sqe < 1 {
			sqe = 1
		}
		costs[n.AttachedStreamIDs[t.AttachedIndex]] += sqe
	}
	for a := range costs {
		recvFrom := make(map[int64]struct{})
		for _, edge := range n.Graph().InEdges(n) {
			p := edge.From
			if p.IsHostOnly() || p.IsSync() || p.StreamID == a {
				continue
			}
			recvFrom[p.StreamID] = struct{}{}
		}
		costs[a] += int64(len(recvFrom))
	}
	return costs
}
