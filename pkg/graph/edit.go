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

package graph

import (
	"strconv"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
)

// EditPlan collects node insertions and edges to be applied to a model in a
// single pass, so that nothing is mutated while the graph is being scanned.
type EditPlan struct {
	before map[*Node][]*Node
	after  map[*Node][]*Node
	edges  []Edge
	size   int
}

// NewEditPlan creates an empty plan.
func NewEditPlan() *EditPlan {
	return &EditPlan{
		before: make(map[*Node][]*Node),
		after:  make(map[*Node][]*Node),
	}
}

// InsertBefore plans to insert n right before anchor, after any node
// already planned before anchor.
func (p *EditPlan) InsertBefore(anchor, n *Node) {
	p.before[anchor] = append(p.before[anchor], n)
	p.size++
}

// InsertAfter plans to insert n right after anchor, after any node already
// planned after anchor.
func (p *EditPlan) InsertAfter(anchor, n *Node) {
	p.after[anchor] = append(p.after[anchor], n)
	p.size++
}

// AddEdge plans an edge between two nodes that belong, or will belong, to
// the same graph.
func (p *EditPlan) AddEdge(from, to *Node, kind EdgeKind) {
	p.edges = append(p.edges, Edge{From: from, To: to, Kind: kind})
}

// Len returns the number of planned insertions.
func (p *EditPlan) Len() int { return p.size }

// Apply performs the plan on g and its subgraphs. Inserted nodes join the
// graph of their anchor.
func (g *Graph) Apply(p *EditPlan) error {
	placed := 0
	for _, sg := range g.AllGraphs() {
		nodes := make([]*Node, 0, len(sg.nodes))
		var inserted []*Node
		for _, n := range sg.nodes {
			for _, b := range p.before[n] {
				nodes = append(nodes, b)
				inserted = append(inserted, b)
			}
			nodes = append(nodes, n)
			for _, a := range p.after[n] {
				nodes = append(nodes, a)
				inserted = append(inserted, a)
			}
		}
		for _, n := range inserted {
			if _, exists := sg.byName[n.Name]; exists {
				return cerror.ErrInvalidInput.GenWithStackByArgs("duplicate node " + n.Name + " in graph " + sg.Name)
			}
			kind, _ := ResolveKind(n.Type)
			n.Kind = kind
			n.ID = sg.nextID.Inc()
			n.graph = sg
			sg.byName[n.Name] = n
		}
		placed += len(inserted)
		sg.nodes = nodes
	}
	if placed != p.size {
		return cerror.ErrInvalidInput.GenWithStackByArgs(
			"edit plan has " + strconv.Itoa(p.size-placed) + " insertions with unknown anchors")
	}
	for _, e := range p.edges {
		if e.From.graph == nil || e.From.graph != e.To.graph {
			return cerror.ErrInvalidInput.GenWithStackByArgs(
				"planned edge " + e.From.Name + " -> " + e.To.Name + " crosses graphs")
		}
		if err := e.From.graph.AddEdge(e.From, e.To, e.Kind); err != nil {
			return err
		}
	}
	return nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
