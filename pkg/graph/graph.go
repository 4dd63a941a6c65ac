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
	"strings"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/google/btree"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// EdgeKind distinguishes data dependencies from control dependencies.
type EdgeKind int

// Edge kinds.
const (
	DataEdge EdgeKind = iota
	ControlEdge
)

// String implements fmt.Stringer.
func (k EdgeKind) String() string {
	if k == ControlEdge {
		return "control"
	}
	return "data"
}

// Edge is a dependency between two nodes of the same graph.
type Edge struct {
	From *Node
	To   *Node
	Kind EdgeKind
}

// Graph is an operator graph. The root graph owns a registry of all the
// subgraphs reachable from it, and node ids are unique across the root
// graph and its subgraphs.
//
// A Graph is not safe for concurrent use.
type Graph struct {
	Name string
	// MultiTask is set when every ordinary node launches several kernels.
	MultiTask bool

	root       *Graph
	parent     *Graph
	parentNode *Node

	// nodes is kept in a valid topological order once sorted.
	nodes  []*Node
	byName map[string]*Node
	in     map[int64][]Edge
	out    map[int64][]Edge

	// subgraphs is only populated on the root graph.
	subgraphs map[string]*Graph
	nextID    *atomic.Int64
}

// New creates an empty root graph.
func New(name string) *Graph {
	g := newGraph(name)
	g.root = g
	g.subgraphs = make(map[string]*Graph)
	g.nextID = atomic.NewInt64(0)
	return g
}

func newGraph(name string) *Graph {
	return &Graph{
		Name:   name,
		byName: make(map[string]*Node),
		in:     make(map[int64][]Edge),
		out:    make(map[int64][]Edge),
	}
}

// NewSubgraph creates a subgraph invoked by the parent node, which must
// belong to g.
func (g *Graph) NewSubgraph(parent *Node, name string) (*Graph, error) {
	if parent == nil || parent.graph != g {
		return nil, cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, parent)
	}
	if name == "" {
		return nil, cerror.ErrInvalidInput.GenWithStackByArgs("subgraph name is empty")
	}
	if _, exists := g.root.subgraphs[name]; exists {
		return nil, cerror.ErrInvalidInput.GenWithStackByArgs("duplicate subgraph " + name)
	}
	sg := newGraph(name)
	sg.root = g.root
	sg.parent = g
	sg.parentNode = parent
	sg.nextID = g.root.nextID
	g.root.subgraphs[name] = sg

	for _, existing := range parent.Subgraphs {
		if existing == name {
			return sg, nil
		}
	}
	parent.Subgraphs = append(parent.Subgraphs, name)
	return sg, nil
}

// Root returns the root graph.
func (g *Graph) Root() *Graph { return g.root }

// Parent returns the enclosing graph, nil for the root graph.
func (g *Graph) Parent() *Graph { return g.parent }

// ParentNode returns the node invoking this subgraph, nil for the root graph.
func (g *Graph) ParentNode() *Node { return g.parentNode }

// AddNode adds n to the graph, assigns its id and resolves its kind from
// its op type.
func (g *Graph) AddNode(n *Node) (*Node, error) {
	if n.Name == "" {
		return nil, cerror.ErrInvalidInput.GenWithStackByArgs("node name is empty")
	}
	if _, exists := g.byName[n.Name]; exists {
		return nil, cerror.ErrInvalidInput.GenWithStackByArgs("duplicate node " + n.Name + " in graph " + g.Name)
	}
	kind, collectiveType := ResolveKind(n.Type)
	n.Kind = kind
	if n.CollectiveType == "" {
		n.CollectiveType = collectiveType
	}
	n.ID = g.nextID.Inc()
	n.graph = g
	g.byName[n.Name] = n
	g.nodes = append(g.nodes, n)
	return n, nil
}

// AddEdge adds a dependency between two nodes of g. Adding an existing
// edge is a no-op.
func (g *Graph) AddEdge(from, to *Node, kind EdgeKind) error {
	if from == nil || from.graph != g {
		return cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, from)
	}
	if to == nil || to.graph != g {
		return cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, to)
	}
	if from == to {
		return cerror.ErrInvalidInput.GenWithStackByArgs("self loop on " + from.Name)
	}
	for _, e := range g.out[from.ID] {
		if e.To == to && e.Kind == kind {
			return nil
		}
	}
	e := Edge{From: from, To: to, Kind: kind}
	g.out[from.ID] = append(g.out[from.ID], e)
	g.in[to.ID] = append(g.in[to.ID], e)
	return nil
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// FindNode looks up a node by name in g and in the subgraphs reachable
// from it.
func (g *Graph) FindNode(name string) (*Node, bool) {
	for _, sg := range g.AllGraphs() {
		if n, ok := sg.byName[name]; ok {
			return n, true
		}
	}
	return nil, false
}

// Nodes returns the nodes of g in their current order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of nodes in g.
func (g *Graph) Len() int { return len(g.nodes) }

// InEdges returns the edges ending at n. The returned slice must not be
// modified.
func (g *Graph) InEdges(n *Node) []Edge { return g.in[n.ID] }

// OutEdges returns the edges starting at n. The returned slice must not be
// modified.
func (g *Graph) OutEdges(n *Node) []Edge { return g.out[n.ID] }

// InControlNodes returns the sources of the control edges ending at n.
func (g *Graph) InControlNodes(n *Node) []*Node {
	var nodes []*Node
	for _, e := range g.in[n.ID] {
		if e.Kind == ControlEdge {
			nodes = append(nodes, e.From)
		}
	}
	return nodes
}

// Subgraph looks up a subgraph by name in the whole model.
func (g *Graph) Subgraph(name string) (*Graph, bool) {
	sg, ok := g.root.subgraphs[name]
	return sg, ok
}

// SubgraphsOf returns the subgraphs invoked by n in declaration order.
func (g *Graph) SubgraphsOf(n *Node) []*Graph {
	var graphs []*Graph
	for _, name := range n.Subgraphs {
		if sg, ok := g.root.subgraphs[name]; ok {
			graphs = append(graphs, sg)
		}
	}
	return graphs
}

// AllGraphs returns g followed by every subgraph reachable from it, in
// pre-order following the node order.
func (g *Graph) AllGraphs() []*Graph {
	graphs := []*Graph{g}
	for _, n := range g.nodes {
		for _, sg := range g.SubgraphsOf(n) {
			graphs = append(graphs, sg.AllGraphs()...)
		}
	}
	return graphs
}

// AllNodes returns the nodes of every graph returned by AllGraphs.
func (g *Graph) AllNodes() []*Node {
	var nodes []*Node
	for _, sg := range g.AllGraphs() {
		nodes = append(nodes, sg.nodes...)
	}
	return nodes
}

// Validate checks the structural attributes the stream allocator relies on.
func (g *Graph) Validate() error {
	var errs error
	attachedUse := make(map[int64]*Node)
	primaryUse := make(map[int64]string)
	shared := make(map[int64]struct{})
	for _, sg := range g.AllGraphs() {
		for _, n := range sg.nodes {
			errs = multierr.Append(errs, sg.validateNode(n))
			if n.IsHostOnly() {
				continue
			}
			primaryUse[n.StreamID] = n.Name
			for _, id := range n.AttachedStreamIDs {
				first, ok := attachedUse[id]
				if !ok {
					attachedUse[id] = n
					continue
				}
				// an attached stream is split together with one primary stream
				if _, reported := shared[id]; !reported && first.StreamID != n.StreamID {
					shared[id] = struct{}{}
					errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
						"stream "+itoa(id)+" is attached to "+first.Name+" on stream "+itoa(first.StreamID)+
							" and to "+n.Name+" on stream "+itoa(n.StreamID)))
				}
			}
		}
	}
	for id, n := range attachedUse {
		if other, ok := primaryUse[id]; ok {
			errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
				"stream "+itoa(id)+" is attached to "+n.Name+" and primary of "+other))
		}
	}
	if errs != nil {
		return cerror.WrapError(cerror.ErrInvalidInput, errs, "graph "+g.Name)
	}
	return nil
}

func (g *Graph) validateNode(n *Node) error {
	var errs error
	if n.StreamID < HostStreamID {
		errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
			"node "+n.Name+" has invalid stream id "+itoa(n.StreamID)))
	}
	if n.IsHostOnly() && len(n.AttachedStreamIDs) > 0 {
		errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
			"host node "+n.Name+" has attached streams"))
	}
	seen := make(map[int64]struct{}, len(n.AttachedStreamIDs))
	for _, id := range n.AttachedStreamIDs {
		if _, dup := seen[id]; dup || id < 0 || id == n.StreamID {
			errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
				"node "+n.Name+" has invalid attached stream "+itoa(id)))
		}
		seen[id] = struct{}{}
	}
	if n.StreamLabel != "" && strings.TrimSpace(n.StreamLabel) != n.StreamLabel {
		errs = multierr.Append(errs, cerror.ErrInvalidStreamLabel.GenWithStackByArgs(n.Name, n.StreamLabel))
	}
	for _, label := range n.ActiveLabels {
		if strings.TrimSpace(label) == "" {
			errs = multierr.Append(errs, cerror.ErrInvalidStreamLabel.GenWithStackByArgs(n.Name, label))
		}
	}
	for _, name := range n.Subgraphs {
		if _, ok := g.root.subgraphs[name]; !ok {
			errs = multierr.Append(errs, cerror.ErrUnknownSubgraph.GenWithStackByArgs(n.Name, name))
		}
	}
	switch n.Kind {
	case KindCall:
		if len(n.Subgraphs) != 1 {
			errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
				"call node "+n.Name+" must invoke exactly one subgraph"))
		}
	case KindBranch:
		if len(n.Subgraphs) == 0 {
			errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
				"branch node "+n.Name+" has no subgraph"))
		}
	case KindStreamActive:
		if len(n.ActiveLabels) == 0 && len(n.ActiveStreams) == 0 && !n.IsLoopActive && !n.FirstActive {
			errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
				"stream active node "+n.Name+" has no activation attribute"))
		}
	}
	if n.IsLoopActive && n.Kind != KindStreamActive {
		errs = multierr.Append(errs, cerror.ErrInvalidInput.GenWithStackByArgs(
			"loop active node "+n.Name+" is not a stream active node"))
	}
	return errs
}

// TopologicalSort reorders the nodes of g and of all its subgraphs into a
// deterministic topological order. Ties are broken by the current order,
// so an already sorted graph is left untouched.
func (g *Graph) TopologicalSort() error {
	for _, sg := range g.AllGraphs() {
		order, err := sg.topoOrder()
		if err != nil {
			return err
		}
		sg.nodes = order
	}
	return nil
}

// CheckAcyclic returns an error if g or any of its subgraphs has a cycle.
func (g *Graph) CheckAcyclic() error {
	for _, sg := range g.AllGraphs() {
		if _, err := sg.topoOrder(); err != nil {
			return err
		}
	}
	return nil
}

// IsOrdered returns true if the current node order of g is a valid
// topological order.
func (g *Graph) IsOrdered() bool {
	index := g.indexMap()
	for _, n := range g.nodes {
		for _, e := range g.out[n.ID] {
			if index[e.To.ID] <= index[n.ID] {
				return false
			}
		}
	}
	return true
}

func (g *Graph) indexMap() map[int64]int {
	index := make(map[int64]int, len(g.nodes))
	for i, n := range g.nodes {
		index[n.ID] = i
	}
	return index
}

// topoOrder runs Kahn's algorithm, always picking the ready node with the
// smallest current index.
func (g *Graph) topoOrder() ([]*Node, error) {
	index := g.indexMap()
	indeg := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[index[n.ID]] = len(g.in[n.ID])
	}

	ready := btree.NewOrderedG[int](8)
	for i, d := range indeg {
		if d == 0 {
			ready.ReplaceOrInsert(i)
		}
	}
	order := make([]*Node, 0, len(g.nodes))
	for ready.Len() > 0 {
		i, _ := ready.DeleteMin()
		n := g.nodes[i]
		order = append(order, n)
		for _, e := range g.out[n.ID] {
			j := index[e.To.ID]
			indeg[j]--
			if indeg[j] == 0 {
				ready.ReplaceOrInsert(j)
			}
		}
	}
	if len(order) != len(g.nodes) {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.nodes[i].Name)
			}
		}
		return nil, cerror.ErrGraphCycle.GenWithStackByArgs(g.Name, strings.Join(stuck, ","))
	}
	return order, nil
}
