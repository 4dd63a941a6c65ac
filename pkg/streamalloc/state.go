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
	"github.com/dfcompiler/streamalloc/pkg/capacity"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"go.uber.org/atomic"
)

// StreamDesc describes one physical stream produced by the splitter.
type StreamDesc struct {
	ID      int64
	Logical int64
	// Members are the nodes of the stream in issue order.
	Members []*graph.Node
	// Cost is the estimated task number, boundary sync tasks included.
	Cost int64
	// Huge is set when the logical stream alone exceeds the per-stream
	// ceiling.
	Huge bool
	// Attached are the attached streams split together with this stream.
	Attached []int64
	// AttachedCost is the estimated task number of every attached stream,
	// in the order of Attached.
	AttachedCost []int64
}

// allocState holds everything one allocation run mutates. It is created
// at the beginning of Allocator.Run and never shared between runs.
type allocState struct {
	runID    string
	root     *graph.Graph
	tasks    graph.TaskMap
	capacity capacity.Capacity

	// nodes is the global order of the input nodes, root graph first.
	nodes    []*graph.Node
	position map[*graph.Node]int
	// origin keeps the streams of every node as found in the input.
	origin map[*graph.Node][]int64

	lineage *Lineage
	streams map[int64]*StreamDesc
	// primary is the set of physical streams used as primary streams.
	primary map[int64]struct{}

	nextStreamID *atomic.Int64
	nextEventID  *atomic.Int64
	nextNotifyID *atomic.Int64
	// existing ids of sync pseudo nodes found in the input.
	existingEvents  map[int64]struct{}
	existingNotifys map[int64]struct{}

	junctions    []*SyncPair
	junctionInto map[int64]*SyncPair
	deps         []*Dependency
	candidates   []*SyncPair
	syncs        []*SyncPair

	activation *activationPlan

	splitNum      int
	newEventNum   int64
	newNotifyNum  int64
	activationNum int
}

func newAllocState(runID string, g *graph.Graph, tasks graph.TaskMap, c capacity.Capacity) *allocState {
	s := &allocState{
		runID:           runID,
		root:            g,
		tasks:           tasks,
		capacity:        c,
		nodes:           g.AllNodes(),
		position:        make(map[*graph.Node]int),
		origin:          make(map[*graph.Node][]int64),
		lineage:         NewLineage(),
		streams:         make(map[int64]*StreamDesc),
		primary:         make(map[int64]struct{}),
		nextStreamID:    atomic.NewInt64(-1),
		nextEventID:     atomic.NewInt64(-1),
		nextNotifyID:    atomic.NewInt64(-1),
		existingEvents:  make(map[int64]struct{}),
		existingNotifys: make(map[int64]struct{}),
		junctionInto:    make(map[int64]*SyncPair),
	}
	for pos, n := range s.nodes {
		s.position[n] = pos
		s.origin[n] = n.Streams()
		switch n.Kind {
		case graph.KindSend, graph.KindRecv:
			s.existingEvents[n.EventID] = struct{}{}
			if n.EventID > s.nextEventID.Load() {
				s.nextEventID.Store(n.EventID)
			}
		case graph.KindSendNotify, graph.KindRecvNotify:
			s.existingNotifys[n.EventID] = struct{}{}
			if n.EventID > s.nextNotifyID.Load() {
				s.nextNotifyID.Store(n.EventID)
			}
		}
	}
	return s
}

// rootOf returns the key ordering a physical stream: the logical stream for
// primary streams, whose fragments are chained by junction pairs, and the
// stream itself for attached streams.
func (s *allocState) rootOf(physical int64) int64 {
	if _, ok := s.primary[physical]; ok {
		return s.lineage.Logical(physical)
	}
	return physical
}

func (s *allocState) isPrimary(physical int64) bool {
	_, ok := s.primary[physical]
	return ok
}

func (s *allocState) mintStreamID() int64 {
	return s.nextStreamID.Inc()
}

func (s *allocState) eventCount() int64 {
	return int64(len(s.existingEvents)) + s.newEventNum
}

func (s *allocState) notifyCount() int64 {
	return int64(len(s.existingNotifys)) + s.newNotifyNum
}
