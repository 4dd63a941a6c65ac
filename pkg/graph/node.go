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
	"fmt"
	"strings"
)

// HostStreamID marks a node that is not assigned to any device stream.
const HostStreamID = int64(-1)

// Kind is the closed set of node categories the stream allocator cares
// about. It is resolved once from the op type when a node is added.
type Kind int

// Node kinds.
const (
	KindOrdinary Kind = iota
	KindSend
	KindRecv
	KindSendNotify
	KindRecvNotify
	KindStreamSwitch
	KindStreamActive
	KindCollective
	KindAccumulator
	KindCall
	KindBranch
)

var kindNames = [...]string{
	KindOrdinary:     "Ordinary",
	KindSend:         "Send",
	KindRecv:         "Recv",
	KindSendNotify:   "SendNotify",
	KindRecvNotify:   "RecvNotify",
	KindStreamSwitch: "StreamSwitch",
	KindStreamActive: "StreamActive",
	KindCollective:   "Collective",
	KindAccumulator:  "Accumulator",
	KindCall:         "Call",
	KindBranch:       "Branch",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Op types understood by ResolveKind.
const (
	OpSend            = "Send"
	OpRecv            = "Recv"
	OpSendNotify      = "SendNotify"
	OpRecvNotify      = "RecvNotify"
	OpStreamSwitch    = "StreamSwitch"
	OpStreamSwitchN   = "StreamSwitchN"
	OpStreamActive    = "StreamActive"
	OpAssignAdd       = "AssignAdd"
	OpPartitionedCall = "PartitionedCall"
	OpIf              = "If"
	OpCase            = "Case"

	collectivePrefix = "Hcom"
)

var opKinds = map[string]Kind{
	OpSend:            KindSend,
	OpRecv:            KindRecv,
	OpSendNotify:      KindSendNotify,
	OpRecvNotify:      KindRecvNotify,
	OpStreamSwitch:    KindStreamSwitch,
	OpStreamSwitchN:   KindStreamSwitch,
	OpStreamActive:    KindStreamActive,
	OpAssignAdd:       KindAccumulator,
	OpPartitionedCall: KindCall,
	OpIf:              KindBranch,
	OpCase:            KindBranch,
	"StatelessIf":     KindBranch,
	"StatelessCase":   KindBranch,
}

// ResolveKind maps an op type to its kind. Collective communication ops
// are recognized by their prefix and their subtype is returned as well.
func ResolveKind(opType string) (Kind, string) {
	if k, ok := opKinds[opType]; ok {
		return k, ""
	}
	if strings.HasPrefix(opType, collectivePrefix) && len(opType) > len(collectivePrefix) {
		return KindCollective, strings.TrimPrefix(opType, collectivePrefix)
	}
	return KindOrdinary, ""
}

// Node is an operator in the graph.
type Node struct {
	ID   int64
	Name string
	Type string

	Kind           Kind
	CollectiveType string

	// StreamID is the primary stream of the node, HostStreamID if the node
	// runs on host only.
	StreamID          int64
	AttachedStreamIDs []int64

	// StreamLabel groups the node with the other nodes activated together.
	StreamLabel string
	// ActiveLabels are the labels an activator activates.
	ActiveLabels []string
	// ActiveStreams are the streams an activator activates.
	ActiveStreams []int64
	IsLoopActive  bool
	FirstActive   bool

	// TaskNum overrides the estimated task number of the node when positive.
	TaskNum int64
	// SQENum is the number of secondary queue entries each task takes.
	SQENum int64

	Subgraphs []string

	// EventID is only meaningful for synchronization pseudo nodes.
	EventID int64

	graph *Graph
}

// Graph returns the graph owning the node.
func (n *Node) Graph() *Graph {
	return n.graph
}

// IsSync returns true if the node is a send or receive pseudo node.
func (n *Node) IsSync() bool {
	switch n.Kind {
	case KindSend, KindRecv, KindSendNotify, KindRecvNotify:
		return true
	}
	return false
}

// IsHostOnly returns true if the node has no device stream.
func (n *Node) IsHostOnly() bool {
	return n.StreamID < 0
}

// Streams returns the primary stream followed by the attached streams.
func (n *Node) Streams() []int64 {
	if n.IsHostOnly() {
		return nil
	}
	streams := make([]int64, 0, 1+len(n.AttachedStreamIDs))
	streams = append(streams, n.StreamID)
	return append(streams, n.AttachedStreamIDs...)
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, n.Type)
}
