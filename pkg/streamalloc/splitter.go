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
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// logicalStream is a stream of the input graph with its members in issue
// order.
type logicalStream struct {
	id       int64
	members  []*graph.Node
	attached []int64
	cost     int64
}

type splitter struct {
	state *allocState
	cfg   *config.AllocatorConfig
	est   *costEstimator

	costs map[*graph.Node]int64
	// attachedCosts holds the cost of every node on each of its attached
	// streams, keyed by the attached stream of the input.
	attachedCosts map[*graph.Node]map[int64]int64
	// merged is the stream every other stream was merged into, -1 if the
	// model does not run in single stream mode.
	merged int64
}

func newSplitter(state *allocState, cfg *config.AllocatorConfig) *splitter {
	return &splitter{
		state:  state,
		cfg:    cfg,
		est:    newCostEstimator(cfg.Cost, state.tasks),
		merged: -1,
	}
}

// collect groups the device nodes by primary stream and estimates their
// costs with the current stream assignment.
func (sp *splitter) collect() map[int64]*logicalStream {
	sp.costs = make(map[*graph.Node]int64, len(sp.state.nodes))
	sp.attachedCosts = make(map[*graph.Node]map[int64]int64)
	streams := make(map[int64]*logicalStream)
	for _, n := range sp.state.nodes {
		if n.IsHostOnly() {
			continue
		}
		ls, ok := streams[n.StreamID]
		if !ok {
			ls = &logicalStream{id: n.StreamID}
			streams[n.StreamID] = ls
		}
		cost := sp.est.units(n) + syncOverhead(n)
		sp.costs[n] = cost
		ls.cost += cost
		ls.members = append(ls.members, n)
		if costs := sp.est.attachedCost(n); costs != nil {
			sp.attachedCosts[n] = costs
		}
		for _, a := range n.AttachedStreamIDs {
			if !slices.Contains(ls.attached, a) {
				ls.attached = append(ls.attached, a)
			}
		}
	}
	return streams
}

// mergeSingleStream moves every stream that is not huge onto the lowest of
// them when the whole model fits on one huge stream, then renumbers the
// streams densely. It returns true if the streams were merged.
func (sp *splitter) mergeSingleStream(streams map[int64]*logicalStream) bool {
	ceiling := sp.state.capacity.MaxTaskPerHugeStream
	if !sp.cfg.EnableSingleStream || ceiling <= 0 {
		return false
	}
	var total int64
	for _, ls := range streams {
		total += ls.cost
	}
	if total > ceiling {
		log.Info("model does not fit on a single stream",
			zap.String("runID", sp.state.runID),
			zap.Int64("totalTasks", total),
			zap.Int64("ceiling", ceiling))
		return false
	}

	ids := maps.Keys(streams)
	slices.Sort(ids)
	base := int64(-1)
	for _, id := range ids {
		if streams[id].cost > sp.state.capacity.MaxTaskPerStream {
			continue
		}
		if base < 0 {
			base = id
		}
	}
	if base < 0 {
		return false
	}

	// The new id of every input stream, primary and attached.
	remap := make(map[int64]int64)
	for _, id := range ids {
		if streams[id].cost <= sp.state.capacity.MaxTaskPerStream {
			remap[id] = base
		} else {
			remap[id] = id
		}
		for _, a := range streams[id].attached {
			remap[a] = a
		}
	}
	used := slices.Compact(sortedValues(remap))
	dense := make(map[int64]int64, len(used))
	for i, id := range used {
		dense[id] = int64(i)
	}
	for origin, id := range remap {
		remap[origin] = dense[id]
		sp.state.lineage.Alias(origin, dense[id])
	}
	for _, n := range sp.state.nodes {
		if n.IsHostOnly() {
			continue
		}
		n.StreamID = remap[n.StreamID]
		for i, a := range n.AttachedStreamIDs {
			n.AttachedStreamIDs[i] = remap[a]
		}
	}
	sp.merged = dense[base]
	log.Info("merge streams into a single stream",
		zap.String("runID", sp.state.runID),
		zap.Int("inputStreams", len(ids)),
		zap.Int64("stream", sp.merged),
		zap.Int64("totalTasks", total))
	return true
}

func sortedValues(m map[int64]int64) []int64 {
	values := maps.Values(m)
	slices.Sort(values)
	return values
}

// split cuts every logical stream into physical streams that respect the
// per-stream ceiling, then checks the stream number against the device.
func (sp *splitter) split() error {
	streams := sp.collect()
	if sp.mergeSingleStream(streams) {
		// Merging removes cross stream edges, so the costs are estimated
		// again.
		streams = sp.collect()
	}

	ids := maps.Keys(streams)
	slices.Sort(ids)
	maxID := int64(-1)
	for _, id := range ids {
		sp.state.lineage.Init(id)
		sp.state.primary[id] = struct{}{}
		maxID = max(maxID, id)
		for _, a := range streams[id].attached {
			sp.state.lineage.Init(a)
			maxID = max(maxID, a)
		}
	}
	sp.state.nextStreamID.Store(maxID)

	for _, id := range ids {
		if err := sp.splitStream(streams[id]); err != nil {
			return err
		}
	}

	streamNum := int64(sp.state.lineage.Len())
	if streamNum > sp.state.capacity.MaxStreamNum {
		return cerror.ErrStreamNumExceeded.GenWithStackByArgs(streamNum, sp.state.capacity.MaxStreamNum)
	}
	log.Info("split streams",
		zap.String("runID", sp.state.runID),
		zap.Int("logicalStreams", len(ids)),
		zap.Int64("physicalStreams", streamNum),
		zap.Int("cuts", sp.state.splitNum))
	return nil
}

// splitStream walks the members of ls in order and starts a new physical
// stream whenever the next member, plus the send closing the current
// stream, would not fit. Every new stream begins with the receive of the
// junction pair chaining it to the previous one. The attached streams are
// cut together with the primary one, so a member overflowing any of them
// starts new streams for all.
func (sp *splitter) splitStream(ls *logicalStream) error {
	ceiling := sp.state.capacity.MaxTaskPerStream
	if ls.id == sp.merged {
		ceiling = sp.state.capacity.MaxTaskPerHugeStream
	}
	attachedCeiling := sp.state.capacity.MaxTaskPerStream
	failpoint.Inject("StreamTaskCeiling", func(val failpoint.Value) {
		ceiling = int64(val.(int))
		attachedCeiling = ceiling
	})
	huge := ls.cost > sp.state.capacity.MaxTaskPerStream

	// current attached stream of every attached stream of the input
	attached := make(map[int64]int64, len(ls.attached))
	for _, a := range ls.attached {
		attached[a] = a
	}
	desc := &StreamDesc{ID: ls.id, Logical: ls.id, Huge: huge, Attached: slices.Clone(ls.attached)}
	var running int64
	attachedRunning := make(map[int64]int64, len(ls.attached))
	overflows := func(costs map[int64]int64) bool {
		for a, c := range costs {
			if attachedRunning[a]+c > attachedCeiling {
				return true
			}
		}
		return false
	}
	closeStream := func() {
		desc.Cost = running
		for _, a := range ls.attached {
			desc.AttachedCost = append(desc.AttachedCost, attachedRunning[a])
		}
		sp.state.streams[desc.ID] = desc
	}
	for _, n := range ls.members {
		cost, attachedCost := sp.costs[n], sp.attachedCosts[n]
		if len(desc.Members) > 0 && (running+cost+1 > ceiling || overflows(attachedCost)) {
			next := sp.cut(ls, desc, n, attached)
			// the send of the junction pair
			running++
			closeStream()
			desc = next
			running = 1
			clear(attachedRunning)
		}
		if running+cost+1 > ceiling {
			return cerror.ErrStreamTaskExceeded.GenWithStackByArgs(n.Name, cost, ceiling)
		}
		for _, a := range ls.attached {
			if c := attachedCost[a]; c > attachedCeiling {
				return cerror.ErrStreamTaskExceeded.GenWithStackByArgs(n.Name, c, attachedCeiling)
			}
		}
		n.StreamID = desc.ID
		for i, a := range n.AttachedStreamIDs {
			n.AttachedStreamIDs[i] = attached[a]
		}
		desc.Members = append(desc.Members, n)
		running += cost
		for a, c := range attachedCost {
			attachedRunning[a] += c
		}
	}
	closeStream()
	return nil
}

// cut mints the stream starting at n, together with one new stream per
// attached stream, and plans the junction pair from the last member of
// desc to n.
func (sp *splitter) cut(
	ls *logicalStream, desc *StreamDesc, n *graph.Node, attached map[int64]int64,
) *StreamDesc {
	id := sp.state.mintStreamID()
	sp.state.lineage.Add(ls.id, id)
	sp.state.primary[id] = struct{}{}
	next := &StreamDesc{ID: id, Logical: ls.id, Huge: desc.Huge}
	for _, a := range ls.attached {
		na := sp.state.mintStreamID()
		sp.state.lineage.Add(a, na)
		attached[a] = na
		next.Attached = append(next.Attached, na)
	}

	last := desc.Members[len(desc.Members)-1]
	junction := &SyncPair{
		Sender:   Endpoint{Node: last, Stream: desc.ID},
		Receiver: Endpoint{Node: n, Stream: id},
		Junction: true,
		sendPos:  sp.state.position[last],
		recvPos:  sp.state.position[n],
	}
	sp.state.junctions = append(sp.state.junctions, junction)
	sp.state.junctionInto[id] = junction
	sp.state.splitNum++
	streamSplitCounter.Inc()

	log.Debug("cut stream",
		zap.String("runID", sp.state.runID),
		zap.Int64("logical", ls.id),
		zap.Int64("from", desc.ID),
		zap.Int64("to", id),
		zap.Stringer("node", n),
		zap.Int64s("attached", next.Attached))
	return next
}
