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

package topology

import (
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Entry is a node of a stream. Real nodes carry the ids of the sync pseudo
// nodes absorbed around them. A pseudo node that could not be absorbed is
// kept as an entry of its own.
type Entry struct {
	Node     *graph.Node
	Position int

	SendIDs       []int64
	RecvIDs       []int64
	SendNotifyIDs []int64
	RecvNotifyIDs []int64
}

// Stream is the ordered view of one physical stream.
type Stream struct {
	ID int64
	// Label is the first stream label found on the stream.
	Label string
	// InBranch is set when a node of the stream lives in a branch body.
	InBranch bool
	Entries  []*Entry
}

// SyncEdge is an event or notify pair between two entries.
type SyncEdge struct {
	Notify bool
	ID     int64
	From   *Entry
	To     *Entry
}

// View is the stream topology of a model.
type View struct {
	Streams map[int64]*Stream

	senders         map[int64]*Entry
	receivers       map[int64]*Entry
	notifySenders   map[int64]*Entry
	notifyReceivers map[int64]*Entry
}

// Build creates the view of g and all of its subgraphs. Nodes are visited
// in the order of g.AllNodes, which is a topological order once g is sorted.
func Build(g *graph.Graph) *View {
	v := &View{
		Streams:         make(map[int64]*Stream),
		senders:         make(map[int64]*Entry),
		receivers:       make(map[int64]*Entry),
		notifySenders:   make(map[int64]*Entry),
		notifyReceivers: make(map[int64]*Entry),
	}

	buckets := make(map[int64][]*Entry)
	for pos, n := range g.AllNodes() {
		if n.IsHostOnly() {
			continue
		}
		s, ok := v.Streams[n.StreamID]
		if !ok {
			s = &Stream{ID: n.StreamID}
			v.Streams[n.StreamID] = s
		}
		if s.Label == "" {
			s.Label = n.StreamLabel
		}
		if inBranch(n.Graph()) {
			s.InBranch = true
		}
		buckets[n.StreamID] = append(buckets[n.StreamID], &Entry{Node: n, Position: pos})
	}
	for id, bucket := range buckets {
		v.Streams[id].Entries = v.absorb(bucket)
	}
	return v
}

func inBranch(g *graph.Graph) bool {
	for ; g != nil; g = g.Parent() {
		if p := g.ParentNode(); p != nil && p.Kind == graph.KindBranch {
			return true
		}
	}
	return false
}

// absorb folds the sync pseudo nodes of one stream into their neighbours.
// A send right after a real node (or after sends already folded into it) is
// folded into that node; a run of receives right before a real node is
// folded into that node.
func (v *View) absorb(bucket []*Entry) []*Entry {
	var (
		entries []*Entry
		pending []*Entry
		// owner is the real node the next send may be folded into.
		owner *Entry
	)
	flush := func() {
		for _, p := range pending {
			v.register(p, p)
		}
		entries = append(entries, pending...)
		pending = pending[:0]
	}
	for _, e := range bucket {
		switch e.Node.Kind {
		case graph.KindSend, graph.KindSendNotify:
			if owner != nil && len(pending) == 0 {
				v.register(owner, e)
				continue
			}
			flush()
			v.register(e, e)
			entries = append(entries, e)
			owner = nil
		case graph.KindRecv, graph.KindRecvNotify:
			pending = append(pending, e)
			owner = nil
		default:
			for _, p := range pending {
				v.register(e, p)
			}
			pending = pending[:0]
			entries = append(entries, e)
			owner = e
		}
	}
	flush()
	return entries
}

// register records that pseudo is represented by entry.
func (v *View) register(entry, pseudo *Entry) {
	id := pseudo.Node.EventID
	switch pseudo.Node.Kind {
	case graph.KindSend:
		v.senders[id] = entry
		if entry != pseudo {
			entry.SendIDs = append(entry.SendIDs, id)
		}
	case graph.KindRecv:
		v.receivers[id] = entry
		if entry != pseudo {
			entry.RecvIDs = append(entry.RecvIDs, id)
		}
	case graph.KindSendNotify:
		v.notifySenders[id] = entry
		if entry != pseudo {
			entry.SendNotifyIDs = append(entry.SendNotifyIDs, id)
		}
	case graph.KindRecvNotify:
		v.notifyReceivers[id] = entry
		if entry != pseudo {
			entry.RecvNotifyIDs = append(entry.RecvNotifyIDs, id)
		}
	}
}

// StreamIDs returns the stream ids in ascending order.
func (v *View) StreamIDs() []int64 {
	ids := maps.Keys(v.Streams)
	slices.Sort(ids)
	return ids
}

// Sender returns the entry sending the event id.
func (v *View) Sender(id int64) (*Entry, bool) {
	e, ok := v.senders[id]
	return e, ok
}

// Receiver returns the entry receiving the event id.
func (v *View) Receiver(id int64) (*Entry, bool) {
	e, ok := v.receivers[id]
	return e, ok
}

// NotifySender returns the entry sending the notify id.
func (v *View) NotifySender(id int64) (*Entry, bool) {
	e, ok := v.notifySenders[id]
	return e, ok
}

// NotifyReceiver returns the entry receiving the notify id.
func (v *View) NotifyReceiver(id int64) (*Entry, bool) {
	e, ok := v.notifyReceivers[id]
	return e, ok
}

// SyncEdges returns the events, then the notifies, that have both a sender
// and a receiver, ordered by id.
func (v *View) SyncEdges() []SyncEdge {
	var edges []SyncEdge
	collect := func(notify bool, senders, receivers map[int64]*Entry) {
		ids := maps.Keys(senders)
		slices.Sort(ids)
		for _, id := range ids {
			if to, ok := receivers[id]; ok {
				edges = append(edges, SyncEdge{Notify: notify, ID: id, From: senders[id], To: to})
			}
		}
	}
	collect(false, v.senders, v.receivers)
	collect(true, v.notifySenders, v.notifyReceivers)
	return edges
}
