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
	"fmt"

	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
)

// rewriteTasks points every task at the physical stream its node runs on
// after allocation.
func (s *allocState) rewriteTasks() (int, error) {
	rewritten := 0
	for _, n := range s.nodes {
		for _, task := range s.tasks[n.ID] {
			streamID, err := taskStream(n, task)
			if err != nil {
				return rewritten, err
			}
			if task.StreamID != streamID {
				task.StreamID = streamID
				rewritten++
			}
		}
	}
	return rewritten, nil
}

func taskStream(n *graph.Node, task *graph.TaskDef) (int64, error) {
	switch {
	case task.AttachedIndex == -1:
		return n.StreamID, nil
	case task.AttachedIndex >= 0 && task.AttachedIndex < len(n.AttachedStreamIDs):
		return n.AttachedStreamIDs[task.AttachedIndex], nil
	default:
		return 0, cerror.ErrInvalidInput.GenWithStackByArgs(fmt.Sprintf(
			"task %q of node %s uses attached stream %d but the node has %d attached streams",
			task.Name, n.Name, task.AttachedIndex, len(n.AttachedStreamIDs)))
	}
}
