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
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Lineage maps every physical stream back to the logical stream it was
// split from, and keeps the fragments of each logical stream in creation
// order.
type Lineage struct {
	logical   map[int64]int64
	fragments map[int64][]int64
	// alias maps a stream id of the input graph to the logical stream it was
	// merged into.
	alias map[int64]int64
}

// NewLineage creates an empty Lineage.
func NewLineage() *Lineage {
	return &Lineage{
		logical:   make(map[int64]int64),
		fragments: make(map[int64][]int64),
		alias:     make(map[int64]int64),
	}
}

// Init registers id as the first fragment of the logical stream id.
func (l *Lineage) Init(id int64) {
	if _, ok := l.logical[id]; ok {
		return
	}
	l.logical[id] = id
	l.fragments[id] = []int64{id}
}

// Add registers physical as the next fragment of logical.
func (l *Lineage) Add(logical, physical int64) {
	l.Init(logical)
	l.logical[physical] = logical
	l.fragments[logical] = append(l.fragments[logical], physical)
}

// Alias records that the input stream origin now lives on logical.
func (l *Lineage) Alias(origin, logical int64) {
	l.alias[origin] = logical
}

// Logical returns the logical stream of a physical stream. Unknown ids are
// their own logical stream.
func (l *Lineage) Logical(physical int64) int64 {
	if logical, ok := l.logical[physical]; ok {
		return logical
	}
	return physical
}

// Fragments returns the physical streams of a logical stream in creation
// order.
func (l *Lineage) Fragments(logical int64) []int64 {
	fragments, ok := l.fragments[logical]
	if !ok {
		return []int64{logical}
	}
	return slices.Clone(fragments)
}

// Resolve returns the physical streams carrying the input stream origin.
func (l *Lineage) Resolve(origin int64) []int64 {
	if logical, ok := l.alias[origin]; ok {
		return l.Fragments(logical)
	}
	return l.Fragments(origin)
}

// Len returns the number of physical streams.
func (l *Lineage) Len() int {
	return len(l.logical)
}

// Map returns a copy of the physical to logical mapping.
func (l *Lineage) Map() map[int64]int64 {
	return maps.Clone(l.logical)
}
