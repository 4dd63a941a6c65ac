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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamalloc",
			Subsystem: "allocator",
			Name:      "run_total",
			Help:      "Total number of allocation runs",
		}, []string{"result"}) // result is "success" or the error category
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamalloc",
			Subsystem: "allocator",
			Name:      "run_duration_seconds",
			Help:      "Bucketed histogram of the duration of an allocation run",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms ~ 32s
		})
	streamNumHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamalloc",
			Subsystem: "allocator",
			Name:      "stream_num",
			Help:      "Bucketed histogram of the physical stream number of a model",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})
	streamSplitCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamalloc",
			Subsystem: "splitter",
			Name:      "cut_total",
			Help:      "Total number of stream cuts",
		})
	syncPairCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamalloc",
			Subsystem: "sync",
			Name:      "pair_total",
			Help:      "Total number of inserted sync pairs",
		}, []string{"kind"})
	syncRemovedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamalloc",
			Subsystem: "sync",
			Name:      "removed_total",
			Help:      "Total number of candidate sync pairs found unnecessary",
		}, []string{"reason"})
)

// InitMetrics registers all metrics used by the allocator.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(runCounter)
	registry.MustRegister(runDuration)
	registry.MustRegister(streamNumHistogram)
	registry.MustRegister(streamSplitCounter)
	registry.MustRegister(syncPairCounter)
	registry.MustRegister(syncRemovedCounter)
}
