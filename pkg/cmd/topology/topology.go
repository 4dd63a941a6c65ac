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
	"os"

	"github.com/dfcompiler/streamalloc/pkg/cmd/util"
	"github.com/dfcompiler/streamalloc/pkg/config"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/dfcompiler/streamalloc/pkg/logutil"
	"github.com/dfcompiler/streamalloc/pkg/streamalloc"
	topo "github.com/dfcompiler/streamalloc/pkg/topology"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

// options defines flags for the `topology` command.
type options struct {
	graph      string
	tasksFile  string
	configFile string
	allocate   bool
	output     string
	logLevel   string
}

// newOptions creates new options for the `topology` command.
func newOptions() *options {
	return &options{}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to the rendering to it.
func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.graph, "graph", "", "Graph file to render")
	cmd.Flags().StringVar(&o.tasksFile, "tasks", "", "Task file of the graph")
	cmd.Flags().StringVar(&o.configFile, "config", "", "Path of the allocator configuration file, used with --allocate")
	cmd.Flags().BoolVar(&o.allocate, "allocate", false, "Allocate the streams before rendering")
	cmd.Flags().StringVar(&o.output, "output", "", "Write the DOT text to this file instead of stdout")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "warn", "log level (etc: debug|info|warn|error)")
	// the possible error returned from MarkFlagRequired is `no such flag`
	cmd.MarkFlagRequired("graph") //nolint:errcheck
}

func (o *options) run(cmd *cobra.Command) error {
	conf := config.GetDefaultAllocatorConfig()
	if len(o.configFile) > 0 {
		if err := util.StrictDecodeFile(o.configFile, "stream allocator", conf); err != nil {
			return errors.Trace(err)
		}
	}
	if err := conf.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := util.InitCmd(cmd, &logutil.Config{Level: o.logLevel})
	defer cancel()

	g, tasks, err := graph.LoadFile(o.graph)
	if err != nil {
		return errors.Trace(err)
	}
	if len(o.tasksFile) > 0 {
		if err := graph.LoadTasksFile(o.tasksFile, g, tasks); err != nil {
			return errors.Trace(err)
		}
	}
	if o.allocate {
		if _, err := streamalloc.NewAllocator(conf, nil).Run(ctx, g, tasks); err != nil {
			return errors.Trace(err)
		}
	}

	dot := topo.Build(g).DOT()
	if len(o.output) == 0 {
		cmd.Print(dot)
		return nil
	}
	return errors.Annotatef(os.WriteFile(o.output, []byte(dot), 0o644), "write %s", o.output)
}

// NewCmdTopology creates the `topology` command.
func NewCmdTopology() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "topology",
		Short: "Render the streams and synchronization of a graph in Graphviz DOT format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)

	return command
}
