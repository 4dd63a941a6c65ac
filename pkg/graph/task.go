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

// TaskDef is one hardware task generated for a node.
type TaskDef struct {
	NodeID   int64
	StreamID int64
	// AttachedIndex is -1 for a task running on the primary stream of its
	// node, or the index of the attached stream otherwise.
	AttachedIndex int
	// SQENum is the number of secondary queue entries the task takes.
	SQENum int64
	Name   string
}

// TaskMap maps node ids to their tasks in issue order.
type TaskMap map[int64][]*TaskDef

// Add appends a task of n.
func (m TaskMap) Add(n *Node, task *TaskDef) {
	task.NodeID = n.ID
	m[n.ID] = append(m[n.ID], task)
}

// Count returns the number of tasks in m.
func (m TaskMap) Count() int {
	count := 0
	for _, tasks := range m {
		count += len(tasks)
	}
	return count
}
