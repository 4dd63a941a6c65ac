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
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
)

// GraphDef is the serialized form of a graph.
type GraphDef struct {
	Name string `toml:"name" json:"name" yaml:"name"`
	// Parent is the name of the node invoking a subgraph.
	Parent    string     `toml:"parent" json:"parent,omitempty" yaml:"parent,omitempty"`
	MultiTask bool       `toml:"multi-task" json:"multi-task,omitempty" yaml:"multi-task,omitempty"`
	Nodes     []NodeDef  `toml:"nodes" json:"nodes" yaml:"nodes"`
	Edges     []EdgeDef  `toml:"edges" json:"edges,omitempty" yaml:"edges,omitempty"`
	Subgraphs []GraphDef `toml:"subgraphs" json:"subgraphs,omitempty" yaml:"subgraphs,omitempty"`
}

// NodeDef is the serialized form of a node.
type NodeDef struct {
	Name              string     `toml:"name" json:"name" yaml:"name"`
	Type              string     `toml:"type" json:"type" yaml:"type"`
	StreamID          int64      `toml:"stream-id" json:"stream-id" yaml:"stream-id"`
	AttachedStreamIDs []int64    `toml:"attached-stream-ids" json:"attached-stream-ids,omitempty" yaml:"attached-stream-ids,omitempty"`
	StreamLabel       string     `toml:"stream-label" json:"stream-label,omitempty" yaml:"stream-label,omitempty"`
	ActiveLabels      []string   `toml:"active-labels" json:"active-labels,omitempty" yaml:"active-labels,omitempty"`
	ActiveStreams     []int64    `toml:"active-streams" json:"active-streams,omitempty" yaml:"active-streams,omitempty"`
	LoopActive        bool       `toml:"loop-active" json:"loop-active,omitempty" yaml:"loop-active,omitempty"`
	FirstActive       bool       `toml:"first-active" json:"first-active,omitempty" yaml:"first-active,omitempty"`
	TaskNum           int64      `toml:"task-num" json:"task-num,omitempty" yaml:"task-num,omitempty"`
	SQENum            int64      `toml:"sqe-num" json:"sqe-num,omitempty" yaml:"sqe-num,omitempty"`
	CollectiveType    string     `toml:"collective-type" json:"collective-type,omitempty" yaml:"collective-type,omitempty"`
	Subgraphs         []string   `toml:"subgraphs" json:"subgraphs,omitempty" yaml:"subgraphs,omitempty"`
	EventID           int64      `toml:"event-id" json:"event-id,omitempty" yaml:"event-id,omitempty"`
	Tasks             []TaskSpec `toml:"tasks" json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// TaskSpec is the serialized form of a task.
type TaskSpec struct {
	Name string `toml:"name" json:"name,omitempty" yaml:"name,omitempty"`
	// Attached is 0 for the primary stream and k for the k-th attached stream.
	Attached int   `toml:"attached" json:"attached,omitempty" yaml:"attached,omitempty"`
	SQENum   int64 `toml:"sqe-num" json:"sqe-num,omitempty" yaml:"sqe-num,omitempty"`
	StreamID int64 `toml:"stream-id" json:"stream-id" yaml:"stream-id"`
}

func (ts TaskSpec) taskDef(n *Node) *TaskDef {
	streamID := n.StreamID
	if ts.Attached > 0 && ts.Attached <= len(n.AttachedStreamIDs) {
		streamID = n.AttachedStreamIDs[ts.Attached-1]
	}
	return &TaskDef{
		Name:          ts.Name,
		StreamID:      streamID,
		AttachedIndex: ts.Attached - 1,
		SQENum:        ts.SQENum,
	}
}

// EdgeDef is the serialized form of an edge.
type EdgeDef struct {
	From    string `toml:"from" json:"from" yaml:"from"`
	To      string `toml:"to" json:"to" yaml:"to"`
	Control bool   `toml:"control" json:"control,omitempty" yaml:"control,omitempty"`
}

// LoadFile decodes a graph file. The format is chosen by the file
// extension: .json, .yaml/.yml, .toml or .msgpack. MsgPack files use the
// JSON field names.
func LoadFile(path string) (*Graph, TaskMap, error) {
	def := &GraphDef{}
	if err := decodeFile(path, def); err != nil {
		return nil, nil, err
	}
	return Build(def)
}

// TaskFileDef is the serialized form of a task file, mapping node names to
// their tasks.
type TaskFileDef struct {
	Tasks map[string][]TaskSpec `toml:"tasks" json:"tasks" yaml:"tasks"`
}

// LoadTasksFile decodes a task file and adds its tasks to the nodes of g.
func LoadTasksFile(path string, g *Graph, tasks TaskMap) error {
	def := &TaskFileDef{}
	if err := decodeFile(path, def); err != nil {
		return err
	}
	names := maps.Keys(def.Tasks)
	slices.Sort(names)
	for _, name := range names {
		n, ok := g.FindNode(name)
		if !ok {
			return cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, name)
		}
		for _, ts := range def.Tasks[name] {
			tasks.Add(n, ts.taskDef(n))
		}
	}
	return nil
}

func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cerror.WrapError(cerror.ErrDecodeGraph, err, path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, v)
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, v)
	case ".toml":
		_, err = toml.Decode(string(data), v)
	case ".msgpack":
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		err = dec.Decode(v)
	default:
		err = errors.Errorf("unsupported file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return cerror.WrapError(cerror.ErrDecodeGraph, err, path)
	}
	return nil
}

// MarshalMsgpack encodes v in MsgPack format with the JSON field names, the
// form LoadFile reads from .msgpack files.
func MarshalMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// Build creates a graph and its tasks from a definition.
func Build(def *GraphDef) (*Graph, TaskMap, error) {
	g := New(def.Name)
	tasks := make(TaskMap)
	if err := g.build(def, tasks); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return g, tasks, nil
}

func (g *Graph) build(def *GraphDef, tasks TaskMap) error {
	g.MultiTask = def.MultiTask
	for i := range def.Nodes {
		nd := &def.Nodes[i]
		n, err := g.AddNode(&Node{
			Name:              nd.Name,
			Type:              nd.Type,
			CollectiveType:    nd.CollectiveType,
			StreamID:          nd.StreamID,
			AttachedStreamIDs: nd.AttachedStreamIDs,
			StreamLabel:       nd.StreamLabel,
			ActiveLabels:      nd.ActiveLabels,
			ActiveStreams:     nd.ActiveStreams,
			IsLoopActive:      nd.LoopActive,
			FirstActive:       nd.FirstActive,
			TaskNum:           nd.TaskNum,
			SQENum:            nd.SQENum,
			Subgraphs:         nd.Subgraphs,
			EventID:           nd.EventID,
		})
		if err != nil {
			return err
		}
		for _, ts := range nd.Tasks {
			tasks.Add(n, ts.taskDef(n))
		}
	}
	for _, ed := range def.Edges {
		from, ok := g.Node(ed.From)
		if !ok {
			return cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, ed.From)
		}
		to, ok := g.Node(ed.To)
		if !ok {
			return cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, ed.To)
		}
		kind := DataEdge
		if ed.Control {
			kind = ControlEdge
		}
		if err := g.AddEdge(from, to, kind); err != nil {
			return err
		}
	}
	for i := range def.Subgraphs {
		sd := &def.Subgraphs[i]
		parent, ok := g.Node(sd.Parent)
		if !ok {
			return cerror.ErrUnknownNode.GenWithStackByArgs(g.Name, sd.Parent)
		}
		sg, err := g.NewSubgraph(parent, sd.Name)
		if err != nil {
			return err
		}
		if err := sg.build(sd, tasks); err != nil {
			return err
		}
	}
	return nil
}

// Def returns the serialized form of g, including its subgraphs and the
// tasks of its nodes.
func (g *Graph) Def(tasks TaskMap) *GraphDef {
	def := &GraphDef{Name: g.Name, MultiTask: g.MultiTask}
	if g.parentNode != nil {
		def.Parent = g.parentNode.Name
	}
	for _, n := range g.nodes {
		nd := NodeDef{
			Name:              n.Name,
			Type:              n.Type,
			StreamID:          n.StreamID,
			AttachedStreamIDs: n.AttachedStreamIDs,
			StreamLabel:       n.StreamLabel,
			ActiveLabels:      n.ActiveLabels,
			ActiveStreams:     n.ActiveStreams,
			LoopActive:        n.IsLoopActive,
			FirstActive:       n.FirstActive,
			TaskNum:           n.TaskNum,
			SQENum:            n.SQENum,
			CollectiveType:    n.CollectiveType,
			Subgraphs:         n.Subgraphs,
			EventID:           n.EventID,
		}
		for _, t := range tasks[n.ID] {
			nd.Tasks = append(nd.Tasks, TaskSpec{
				Name:     t.Name,
				Attached: t.AttachedIndex + 1,
				SQENum:   t.SQENum,
				StreamID: t.StreamID,
			})
		}
		def.Nodes = append(def.Nodes, nd)
		for _, e := range g.out[n.ID] {
			def.Edges = append(def.Edges, EdgeDef{From: e.From.Name, To: e.To.Name, Control: e.Kind == ControlEdge})
		}
		for _, sg := range g.SubgraphsOf(n) {
			def.Subgraphs = append(def.Subgraphs, *sg.Def(tasks))
		}
	}
	return def
}
