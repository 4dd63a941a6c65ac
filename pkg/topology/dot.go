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
	"fmt"
	"strings"
)

// DOT renders the view as a Graphviz digraph: one cluster per stream with
// its entries chained in order, and one edge per sync pair.
func (v *View) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph streams {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")

	for _, id := range v.StreamIDs() {
		s := v.Streams[id]
		label := fmt.Sprintf("stream %d", id)
		if s.Label != "" {
			label += fmt.Sprintf(" (%s)", s.Label)
		}
		fmt.Fprintf(&sb, "  subgraph cluster_%d {\n", id)
		fmt.Fprintf(&sb, "    label=%q;\n", label)
		if s.InBranch {
			sb.WriteString("    style=dashed;\n")
		}
		for _, e := range s.Entries {
			fmt.Fprintf(&sb, "    %s [label=%q];\n", dotID(e), entryLabel(e))
		}
		for i := 1; i < len(s.Entries); i++ {
			fmt.Fprintf(&sb, "    %s -> %s [style=bold];\n", dotID(s.Entries[i-1]), dotID(s.Entries[i]))
		}
		sb.WriteString("  }\n")
	}

	for _, e := range v.SyncEdges() {
		kind, style := "event", "solid"
		if e.Notify {
			kind, style = "notify", "dotted"
		}
		fmt.Fprintf(&sb, "  %s -> %s [label=\"%s %d\", style=%s, color=red];\n",
			dotID(e.From), dotID(e.To), kind, e.ID, style)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func dotID(e *Entry) string {
	return fmt.Sprintf("n%d", e.Node.ID)
}

func entryLabel(e *Entry) string {
	label := e.Node.Name
	if len(e.RecvIDs) > 0 {
		label += fmt.Sprintf("\nrecv %v", e.RecvIDs)
	}
	if len(e.RecvNotifyIDs) > 0 {
		label += fmt.Sprintf("\nrecv notify %v", e.RecvNotifyIDs)
	}
	if len(e.SendIDs) > 0 {
		label += fmt.Sprintf("\nsend %v", e.SendIDs)
	}
	if len(e.SendNotifyIDs) > 0 {
		label += fmt.Sprintf("\nsend notify %v", e.SendNotifyIDs)
	}
	return label
}
