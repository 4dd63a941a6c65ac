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
	"fmt"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// SyncKind is the hardware primitive of a sync pair.
type SyncKind int

// Sync kinds.
const (
	SyncEvent SyncKind = iota
	SyncNotify
)

// String implements fmt.Stringer.
func (k SyncKind) String() string {
	if k == SyncNotify {
		return "notify"
	}
	return "event"
}

// Endpoint is a node on one of its streams.
type Endpoint struct {
	Node   *graph.Node
	Stream int64
}

// SyncPair orders Sender before Receiver across two physical streams.
type SyncPair struct {
	Kind     SyncKind
	ID       int64
	Sender   Endpoint
	Receiver Endpoint
	// Junction is set for the pairs chaining two fragments of a split
	// stream. They are never removed.
	Junction bool

	// SendNode and RecvNode are the pseudo nodes inserted for the pair.
	SendNode *graph.Node
	RecvNode *graph.Node

	sendPos int
	recvPos int
	seq     int
	// coveredBy is the pair that makes this candidate redundant.
	coveredBy  *SyncPair
	reason     Resolution
	activators []*graph.Node
}

// String implements fmt.Stringer.
func (p *SyncPair) String() string {
	return fmt.Sprintf("%s %d: %s@%d -> %s@%d", p.Kind, p.ID,
		p.Sender.Node.Name, p.Sender.Stream, p.Receiver.Node.Name, p.Receiver.Stream)
}

// DepState is the state of a cross stream dependency.
type DepState int

// Dependency states.
const (
	Unresolved DepState = iota
	ResolvedViaEvent
	ResolvedViaActivation
)

var depStateNames = [...]string{
	Unresolved:            "Unresolved",
	ResolvedViaEvent:      "ResolvedViaEvent",
	ResolvedViaActivation: "ResolvedViaActivation",
}

// String implements fmt.Stringer.
func (s DepState) String() string {
	return depStateNames[s]
}

// Resolution tells how a dependency was resolved.
type Resolution string

// Resolutions.
const (
	// ResolutionDirect means the dependency has a sync pair of its own.
	ResolutionDirect Resolution = "direct"
	// ResolutionClosestProducer means a later producer on the same stream
	// carries the sync pair.
	ResolutionClosestProducer Resolution = "closest-producer"
	ResolutionSendRedundant   Resolution = "send-redundant"
	ResolutionRecvRedundant   Resolution = "recv-redundant"
	ResolutionTransitive      Resolution = "transitive"
	// ResolutionJunction means both ends are fragments of one split stream.
	ResolutionJunction   Resolution = "junction"
	ResolutionActivation Resolution = "activation"
)

// Dependency is a data or control edge whose ends run on different
// physical streams.
type Dependency struct {
	Producer Endpoint
	Consumer Endpoint
	Edge     graph.EdgeKind

	State  DepState
	Reason Resolution
	// Pair is the sync pair guaranteeing the order when the dependency is
	// resolved via an event.
	Pair *SyncPair
	// Activators are the nodes guaranteeing the order when the dependency
	// is resolved via activation.
	Activators []*graph.Node

	candidate *SyncPair
}

// candidateKey groups the dependencies sharing a consumer endpoint and a
// producer stream. Only the closest producer of a group needs a sync pair.
type candidateKey struct {
	producer int64
	consumer *graph.Node
	stream   int64
}

// collectDependencies records every cross stream dependency and plans one
// candidate pair per group of dependencies.
func (s *allocState) collectDependencies() error {
	groups := make(map[candidateKey][]*Dependency)
	var keys []candidateKey
	for _, g := range s.root.AllGraphs() {
		for _, c := range g.Nodes() {
			if c.IsHostOnly() || c.IsSync() {
				continue
			}
			for _, e := range g.InEdges(c) {
				p := e.From
				if p.IsHostOnly() || p.IsSync() {
					continue
				}
				for _, t := range c.Streams() {
					if p.StreamID == t {
						continue
					}
					dep := &Dependency{
						Producer: Endpoint{Node: p, Stream: p.StreamID},
						Consumer: Endpoint{Node: c, Stream: t},
						Edge:     e.Kind,
						State:    Unresolved,
					}
					s.deps = append(s.deps, dep)

					if s.isPrimary(t) && s.rootOf(p.StreamID) == s.rootOf(t) {
						if err := s.resolveByJunction(dep); err != nil {
							return err
						}
						continue
					}
					key := candidateKey{producer: p.StreamID, consumer: c, stream: t}
					if _, ok := groups[key]; !ok {
						keys = append(keys, key)
					}
					groups[key] = append(groups[key], dep)
				}
			}
		}
	}

	for _, key := range keys {
		deps := groups[key]
		closest := deps[0]
		for _, dep := range deps[1:] {
			if s.position[dep.Producer.Node] > s.position[closest.Producer.Node] {
				closest = dep
			}
		}
		pair := &SyncPair{
			Sender:   closest.Producer,
			Receiver: closest.Consumer,
			sendPos:  s.position[closest.Producer.Node],
			recvPos:  s.position[closest.Consumer.Node],
			seq:      len(s.candidates),
			reason:   ResolutionDirect,
		}
		s.candidates = append(s.candidates, pair)
		for _, dep := range deps {
			dep.candidate = pair
			if dep != closest {
				dep.Reason = ResolutionClosestProducer
			}
		}
	}
	log.Info("collect cross stream dependencies",
		zap.String("runID", s.runID),
		zap.Int("dependencies", len(s.deps)),
		zap.Int("candidates", len(s.candidates)),
		zap.Int("junctions", len(s.junctions)))
	return nil
}

// resolveByJunction resolves a dependency between two fragments of the same
// logical stream. The producer fragment comes first, and the junction pairs
// chain it to the consumer fragment.
func (s *allocState) resolveByJunction(dep *Dependency) error {
	junction, ok := s.junctionInto[dep.Consumer.Stream]
	if !ok {
		return cerror.ErrGraphInconsistent.GenWithStackByArgs(fmt.Sprintf(
			"%s on stream %d depends on %s on stream %d of the same logical stream, but no junction leads to it",
			dep.Consumer.Node.Name, dep.Consumer.Stream, dep.Producer.Node.Name, dep.Producer.Stream))
	}
	dep.State = ResolvedViaEvent
	dep.Reason = ResolutionJunction
	dep.Pair = junction
	return nil
}

// insertSyncs plans the sync pairs, removes the redundant ones and inserts
// the remaining pairs into the graph.
func (s *allocState) insertSyncs(mode SyncKind, maxEventNum, maxNotifyNum int64) error {
	if err := s.collectDependencies(); err != nil {
		return errors.Trace(err)
	}
	if err := s.optimizeSyncs(); err != nil {
		return errors.Trace(err)
	}
	if err := s.assignSyncIDs(mode, maxEventNum, maxNotifyNum); err != nil {
		return errors.Trace(err)
	}
	s.finishDependencies()
	return errors.Trace(s.materialize())
}

// assignSyncIDs gives fresh ids to the kept pairs in program order and
// checks the budget of the sync kind.
func (s *allocState) assignSyncIDs(mode SyncKind, maxEventNum, maxNotifyNum int64) error {
	kept := append([]*SyncPair(nil), s.junctions...)
	for _, p := range s.candidates {
		if p.coveredBy == nil && p.activators == nil {
			kept = append(kept, p)
		}
	}
	slices.SortStableFunc(kept, func(a, b *SyncPair) int {
		if a.sendPos != b.sendPos {
			return a.sendPos - b.sendPos
		}
		return a.recvPos - b.recvPos
	})

	switch mode {
	case SyncNotify:
		total := s.notifyCount() + int64(len(kept))
		if total > maxNotifyNum {
			return cerror.ErrNotifyNumExceeded.GenWithStackByArgs(total, maxNotifyNum)
		}
		for _, p := range kept {
			p.Kind = SyncNotify
			p.ID = s.nextNotifyID.Inc()
		}
		s.newNotifyNum = int64(len(kept))
		syncPairCounter.WithLabelValues(SyncNotify.String()).Add(float64(len(kept)))
	default:
		total := s.eventCount() + int64(len(kept))
		if total > maxEventNum {
			return cerror.ErrEventNumExceeded.GenWithStackByArgs(total, maxEventNum)
		}
		for _, p := range kept {
			p.Kind = SyncEvent
			p.ID = s.nextEventID.Inc()
		}
		s.newEventNum = int64(len(kept))
		syncPairCounter.WithLabelValues(SyncEvent.String()).Add(float64(len(kept)))
	}
	s.syncs = kept
	return nil
}

// finishDependencies moves every dependency to its final state.
func (s *allocState) finishDependencies() {
	for _, dep := range s.deps {
		pair := dep.candidate
		if pair == nil {
			continue
		}
		if pair.activators != nil {
			dep.State = ResolvedViaActivation
			dep.Reason = ResolutionActivation
			dep.Activators = pair.activators
			continue
		}
		dep.State = ResolvedViaEvent
		if pair.coveredBy != nil {
			dep.Reason = pair.reason
			dep.Pair = pair.coveredBy
			continue
		}
		if dep.Reason == "" {
			dep.Reason = ResolutionDirect
		}
		dep.Pair = pair
	}
}

// materialize inserts a send right after the sender and a receive right
// before the receiver of every kept pair, wired by control edges. The
// insertions are planned first and applied in one pass.
func (s *allocState) materialize() error {
	plan := graph.NewEditPlan()
	for _, p := range s.syncs {
		sendType, recvType := graph.OpSend, graph.OpRecv
		if p.Kind == SyncNotify {
			sendType, recvType = graph.OpSendNotify, graph.OpRecvNotify
		}
		p.SendNode = &graph.Node{
			Name:     fmt.Sprintf("%s_send_%d", p.Kind, p.ID),
			Type:     sendType,
			StreamID: p.Sender.Stream,
			EventID:  p.ID,
		}
		p.RecvNode = &graph.Node{
			Name:     fmt.Sprintf("%s_recv_%d", p.Kind, p.ID),
			Type:     recvType,
			StreamID: p.Receiver.Stream,
			EventID:  p.ID,
		}
		sender, receiver := p.Sender.Node, p.Receiver.Node
		plan.InsertAfter(sender, p.SendNode)
		plan.InsertBefore(receiver, p.RecvNode)
		plan.AddEdge(sender, p.SendNode, graph.ControlEdge)
		if sender.Graph() == receiver.Graph() {
			plan.AddEdge(p.SendNode, p.RecvNode, graph.ControlEdge)
		}
		plan.AddEdge(p.RecvNode, receiver, graph.ControlEdge)
	}
	if err := s.root.Apply(plan); err != nil {
		return errors.Trace(err)
	}
	log.Info("insert sync pairs",
		zap.String("runID", s.runID),
		zap.Int("pairs", len(s.syncs)),
		zap.Int("pseudoNodes", plan.Len()))
	return nil
}
