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
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/google/btree"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// streamPair is the ordered producer and consumer streams of a candidate.
type streamPair struct {
	from int64
	to   int64
}

// lessDominance orders the candidates of one stream pair by latest send
// first, then earliest receive.
func lessDominance(a, b *SyncPair) bool {
	if a.sendPos != b.sendPos {
		return a.sendPos > b.sendPos
	}
	if a.recvPos != b.recvPos {
		return a.recvPos < b.recvPos
	}
	return a.seq < b.seq
}

// optimizeSyncs drops the candidates whose order is already guaranteed,
// either by the activation of the consumer stream or by another candidate
// sending later and receiving earlier on the same pair of streams.
func (s *allocState) optimizeSyncs() error {
	plan, err := s.activationPlan()
	if err != nil {
		return errors.Trace(err)
	}

	groups := make(map[streamPair]*btree.BTreeG[*SyncPair])
	var order []streamPair
	for _, p := range s.candidates {
		if activators, ok := s.activatedAfter(p, plan); ok {
			p.activators = activators
			p.reason = ResolutionActivation
			syncRemovedCounter.WithLabelValues(string(ResolutionActivation)).Inc()
			log.Debug("sync pair is implied by activation",
				zap.String("runID", s.runID),
				zap.Stringer("pair", p),
				zap.Int("activators", len(activators)))
			continue
		}
		key := streamPair{from: s.rootOf(p.Sender.Stream), to: s.rootOf(p.Receiver.Stream)}
		tree, ok := groups[key]
		if !ok {
			tree = btree.NewG(8, lessDominance)
			groups[key] = tree
			order = append(order, key)
		}
		tree.ReplaceOrInsert(p)
	}

	removed := 0
	for _, key := range order {
		var best *SyncPair
		groups[key].Ascend(func(p *SyncPair) bool {
			// best sends no earlier than p and receives the earliest among
			// the kept candidates.
			if best != nil && best.recvPos <= p.recvPos {
				p.coveredBy = best
				p.reason = classify(p, best)
				removed++
				syncRemovedCounter.WithLabelValues(string(p.reason)).Inc()
				log.Debug("sync pair is redundant",
					zap.String("runID", s.runID),
					zap.Stringer("pair", p),
					zap.Stringer("coveredBy", best),
					zap.String("reason", string(p.reason)))
				return true
			}
			best = p
			return true
		})
	}
	log.Info("optimize sync pairs",
		zap.String("runID", s.runID),
		zap.Int("candidates", len(s.candidates)),
		zap.Int("redundant", removed))
	return nil
}

func classify(p, by *SyncPair) Resolution {
	switch {
	case p.Sender.Node == by.Sender.Node:
		return ResolutionSendRedundant
	case p.Receiver.Node == by.Receiver.Node:
		return ResolutionRecvRedundant
	default:
		return ResolutionTransitive
	}
}

// activatedAfter reports whether the receiving stream of p can only start
// after its producer: every activator of the stream runs on the producer
// stream at or after the producer. An activator inside a subgraph counts
// by the node of the producer graph that encloses it.
func (s *allocState) activatedAfter(p *SyncPair, plan *activationPlan) ([]*graph.Node, bool) {
	activators := plan.activatedBy[p.Receiver.Stream]
	if len(activators) == 0 {
		return nil, false
	}
	root := s.rootOf(p.Sender.Stream)
	onProducerStream := func(n *graph.Node) bool {
		return !n.IsHostOnly() && s.isPrimary(n.StreamID) && s.rootOf(n.StreamID) == root
	}
	for _, a := range activators {
		if !onProducerStream(a) {
			return nil, false
		}
		enclosing := enclosingNode(a, p.Sender.Node.Graph())
		if enclosing == nil || !onProducerStream(enclosing) {
			return nil, false
		}
		if s.position[enclosing] < p.sendPos {
			return nil, false
		}
	}
	return activators, true
}

// enclosingNode returns n if it belongs to g, else the parent node in g of
// the subgraph holding n, nil if n is not nested in g.
func enclosingNode(n *graph.Node, g *graph.Graph) *graph.Node {
	for n != nil && n.Graph() != g {
		n = n.Graph().ParentNode()
	}
	return n
}
