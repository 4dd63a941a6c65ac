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
	"context"
	"time"

	"github.com/dfcompiler/streamalloc/pkg/capacity"
	"github.com/dfcompiler/streamalloc/pkg/config"
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/dfcompiler/streamalloc/pkg/logutil"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Result summarizes an allocation run.
type Result struct {
	RunID       string `json:"run-id"`
	StreamCount int64  `json:"stream-count"`
	// EventCount and NotifyCount include the sync ids found in the input.
	EventCount     int64 `json:"event-count"`
	NotifyCount    int64 `json:"notify-count"`
	NewEventCount  int64 `json:"new-event-count"`
	NewNotifyCount int64 `json:"new-notify-count"`
	SplitCount     int   `json:"split-count"`
	RewrittenTasks int   `json:"rewritten-tasks"`
	// Capacity is the device capacity the run was planned for.
	Capacity capacity.Capacity `json:"capacity"`
	// Lineage maps every physical stream to its logical stream.
	Lineage map[int64]int64 `json:"lineage"`

	Streams      []*StreamDesc `json:"-"`
	Syncs        []*SyncPair   `json:"-"`
	Dependencies []*Dependency `json:"-"`
}

// Allocator assigns the nodes of a model to physical streams and inserts
// the synchronization between them. An Allocator keeps no state between
// runs and may be reused.
type Allocator struct {
	cfg    *config.AllocatorConfig
	oracle capacity.Oracle
}

// NewAllocator creates an Allocator. The capacity oracle described by the
// config is used when oracle is nil.
func NewAllocator(cfg *config.AllocatorConfig, oracle capacity.Oracle) *Allocator {
	if cfg == nil {
		cfg = config.GetDefaultAllocatorConfig()
	}
	if oracle == nil {
		oracle = cfg.Capacity.Oracle()
	}
	return &Allocator{cfg: cfg, oracle: oracle}
}

// Run allocates the streams of g in place and rewrites the streams of the
// tasks. The graph and the tasks are left half modified when an error is
// returned and must be discarded.
func (a *Allocator) Run(ctx context.Context, g *graph.Graph, tasks graph.TaskMap) (result *Result, err error) {
	runID := uuid.New().String()
	start := time.Now()
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			runCounter.WithLabelValues(string(cerror.CategoryOf(err))).Inc()
			if !logutil.ShouldLogError(err) {
				log.Info("stream allocation canceled", zap.String("runID", runID))
				return
			}
			log.Warn("stream allocation failed",
				zap.String("runID", runID),
				zap.String("graph", g.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return
		}
		runCounter.WithLabelValues("success").Inc()
	}()

	if err := g.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	// A graph already in topological order is left untouched.
	if err := g.TopologicalSort(); err != nil {
		return nil, errors.Trace(err)
	}
	c, err := capacity.Query(ctx, a.oracle)
	if err != nil {
		return nil, errors.Trace(err)
	}

	s := newAllocState(runID, g, tasks, c)
	log.Info("start stream allocation",
		zap.String("runID", runID),
		zap.String("graph", g.Name),
		zap.Int("nodes", len(s.nodes)),
		zap.Int("tasks", tasks.Count()),
		zap.Any("capacity", c))

	if err := newSplitter(s, a.cfg).split(); err != nil {
		return nil, errors.Trace(err)
	}
	mode := SyncEvent
	if a.cfg.SyncMode == config.SyncModeNotify {
		mode = SyncNotify
	}
	if err := s.insertSyncs(mode, a.cfg.MaxEventNum, a.cfg.MaxNotifyNum); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.applyActivation(); err != nil {
		return nil, errors.Trace(err)
	}
	rewritten, err := s.rewriteTasks()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := g.CheckAcyclic(); err != nil {
		return nil, errors.Trace(err)
	}

	result = s.result()
	result.RewrittenTasks = rewritten
	streamNumHistogram.Observe(float64(result.StreamCount))
	log.Info("stream allocation finished",
		zap.String("runID", runID),
		zap.String("graph", g.Name),
		zap.Int64("streams", result.StreamCount),
		zap.Int64("events", result.EventCount),
		zap.Int64("notifies", result.NotifyCount),
		zap.Int("splits", result.SplitCount),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (s *allocState) result() *Result {
	streams := maps.Values(s.streams)
	slices.SortFunc(streams, func(a, b *StreamDesc) int {
		return int(a.ID - b.ID)
	})
	return &Result{
		RunID:          s.runID,
		StreamCount:    int64(s.lineage.Len()),
		EventCount:     s.eventCount(),
		NotifyCount:    s.notifyCount(),
		NewEventCount:  s.newEventNum,
		NewNotifyCount: s.newNotifyNum,
		SplitCount:     s.splitNum,
		Capacity:       s.capacity,
		Lineage:        s.lineage.Map(),
		Streams:        streams,
		Syncs:          s.syncs,
		Dependencies:   s.deps,
	}
}
