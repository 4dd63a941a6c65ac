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
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type streamSet map[int64]struct{}

func (s streamSet) add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s streamSet) union(o streamSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

func (s streamSet) sorted() []int64 {
	ids := maps.Keys(s)
	slices.Sort(ids)
	return ids
}

// activationPlan is the set of physical streams every activator starts.
type activationPlan struct {
	streams map[*graph.Node]streamSet
	// activatedBy lists the activators of every physical stream.
	activatedBy map[int64][]*graph.Node
	// order is the activators in global node order.
	order []*graph.Node
}

func (p *activationPlan) set(n *graph.Node) streamSet {
	set, ok := p.streams[n]
	if !ok {
		set = make(streamSet)
		p.streams[n] = set
		p.order = append(p.order, n)
	}
	return set
}

// activationPlan computes the activation plan on first use. It only reads
// the stream attributes as left by the splitter, so it stays valid after
// the sync pseudo nodes are inserted.
func (s *allocState) activationPlan() (*activationPlan, error) {
	if s.activation != nil {
		return s.activation, nil
	}
	plan := &activationPlan{
		streams:     make(map[*graph.Node]streamSet),
		activatedBy: make(map[int64][]*graph.Node),
	}
	if err := s.resolveLabels(plan); err != nil {
		return nil, err
	}
	if err := s.propagateBranches(plan); err != nil {
		return nil, err
	}
	if err := s.resolveLoops(plan); err != nil {
		return nil, err
	}

	// Keep the global node order for the activators.
	slices.SortStableFunc(plan.order, func(a, b *graph.Node) int {
		return s.position[a] - s.position[b]
	})
	for _, n := range plan.order {
		set := plan.streams[n]
		delete(set, n.StreamID)
		if n.Kind == graph.KindStreamSwitch && len(set) == 0 {
			return nil, cerror.ErrGraphInconsistent.GenWithStackByArgs(
				fmt.Sprintf("stream switch %s activates no stream", n.Name))
		}
		for _, id := range set.sorted() {
			plan.activatedBy[id] = append(plan.activatedBy[id], n)
		}
	}
	s.activation = plan
	return plan, nil
}

// resolveLabels turns the labels and the input stream ids of every
// StreamActive and StreamSwitch node into physical streams.
func (s *allocState) resolveLabels(plan *activationPlan) error {
	labels := make(map[string]streamSet)
	for _, n := range s.nodes {
		if n.StreamLabel == "" || n.IsHostOnly() {
			continue
		}
		set, ok := labels[n.StreamLabel]
		if !ok {
			set = make(streamSet)
			labels[n.StreamLabel] = set
		}
		for _, origin := range s.origin[n] {
			set.add(s.lineage.Resolve(origin)...)
		}
	}

	for _, n := range s.nodes {
		if n.Kind != graph.KindStreamActive && n.Kind != graph.KindStreamSwitch {
			continue
		}
		set := plan.set(n)
		for _, label := range n.ActiveLabels {
			streams, ok := labels[label]
			if !ok {
				return cerror.ErrActiveLabelNotFound.GenWithStackByArgs(label, n.Name)
			}
			set.union(streams)
		}
		for _, origin := range n.ActiveStreams {
			set.add(s.lineage.Resolve(origin)...)
		}
		delete(set, n.StreamID)
	}
	return nil
}

// propagateBranches makes the first active node of every branch body
// activate the streams the body runs on, and the branch node activate the
// first active node.
func (s *allocState) propagateBranches(plan *activationPlan) error {
	for _, b := range s.nodes {
		if b.Kind != graph.KindBranch {
			continue
		}
		for _, sg := range b.Graph().SubgraphsOf(b) {
			needed := s.requiredStreams(sg, make(map[*graph.Graph]struct{}))
			delete(needed, b.StreamID)
			if len(needed) == 0 {
				continue
			}
			first := firstActive(sg)
			if first == nil {
				return cerror.ErrGraphInconsistent.GenWithStackByArgs(fmt.Sprintf(
					"subgraph %s of %s runs on streams %v but has no stream active node",
					sg.Name, b.Name, needed.sorted()))
			}
			delete(needed, first.StreamID)
			plan.set(first).union(needed)
			if first.StreamID != b.StreamID && !first.IsHostOnly() {
				plan.set(b).add(first.StreamID)
			}
			log.Debug("propagate branch activation",
				zap.String("runID", s.runID),
				zap.String("branch", b.Name),
				zap.String("subgraph", sg.Name),
				zap.String("firstActive", first.Name),
				zap.Int64s("streams", needed.sorted()))
		}
	}
	return nil
}

// requiredStreams returns the physical streams a subgraph body needs.
func (s *allocState) requiredStreams(sg *graph.Graph, visited map[*graph.Graph]struct{}) streamSet {
	required := make(streamSet)
	if _, ok := visited[sg]; ok {
		return required
	}
	visited[sg] = struct{}{}
	for _, n := range sg.Nodes() {
		if n.IsSync() {
			continue
		}
		required.add(n.Streams()...)
		switch n.Kind {
		case graph.KindCall:
			for _, called := range sg.SubgraphsOf(n) {
				required.union(s.requiredStreams(called, visited))
			}
		case graph.KindBranch:
			for _, nested := range sg.SubgraphsOf(n) {
				if first := firstActive(nested); first != nil && !first.IsHostOnly() {
					required.add(first.StreamID)
				}
			}
		}
	}
	return required
}

// firstActive returns the flagged StreamActive node of sg, or its first
// StreamActive node.
func firstActive(sg *graph.Graph) *graph.Node {
	var first *graph.Node
	for _, n := range sg.Nodes() {
		if n.Kind != graph.KindStreamActive {
			continue
		}
		if n.FirstActive {
			return n
		}
		if first == nil {
			first = n
		}
	}
	return first
}

// resolveLoops makes the stream switch guarding every loop activate the
// loop body.
func (s *allocState) resolveLoops(plan *activationPlan) error {
	for _, n := range s.nodes {
		if n.Kind != graph.KindStreamActive || !n.IsLoopActive {
			continue
		}
		sw := loopSwitch(n)
		if sw == nil {
			return cerror.ErrLoopSwitchNotFound.GenWithStackByArgs(n.Name)
		}
		loop := make(streamSet)
		loop.union(plan.set(n))
		if len(loop) == 0 {
			loop.union(plan.set(sw))
		}
		swSet := plan.set(sw)
		swSet.union(loop)
		delete(swSet, sw.StreamID)
		delete(loop, n.StreamID)
		plan.streams[n] = loop
		log.Debug("resolve loop activation",
			zap.String("runID", s.runID),
			zap.String("loopActive", n.Name),
			zap.String("switch", sw.Name),
			zap.Int64s("streams", loop.sorted()))
	}
	return nil
}

// loopSwitch finds the StreamSwitch among the control predecessors of n,
// directly or behind an Accumulator.
func loopSwitch(n *graph.Node) *graph.Node {
	g := n.Graph()
	for _, pre := range g.InControlNodes(n) {
		switch pre.Kind {
		case graph.KindStreamSwitch:
			return pre
		case graph.KindAccumulator:
			for _, p := range g.InControlNodes(pre) {
				if p.Kind == graph.KindStreamSwitch {
					return p
				}
			}
		}
	}
	return nil
}

// applyActivation writes the physical streams of the plan to the
// activators.
func (s *allocState) applyActivation() error {
	plan, err := s.activationPlan()
	if err != nil {
		return err
	}
	for _, n := range plan.order {
		n.ActiveStreams = plan.streams[n].sorted()
		s.activationNum++
	}
	log.Info("resolve stream activation",
		zap.String("runID", s.runID),
		zap.Int("activators", s.activationNum),
		zap.Int("activatedStreams", len(plan.activatedBy)))
	return nil
}
