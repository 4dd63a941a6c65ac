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

package compile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dfcompiler/streamalloc/pkg/cmd/util"
	"github.com/dfcompiler/streamalloc/pkg/config"
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/dfcompiler/streamalloc/pkg/graph"
	"github.com/dfcompiler/streamalloc/pkg/logutil"
	"github.com/dfcompiler/streamalloc/pkg/streamalloc"
	"github.com/dfcompiler/streamalloc/pkg/topology"
	"github.com/dfcompiler/streamalloc/pkg/version"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// streamUsageWarnRatio is the share of the device streams above which the
// summary warns.
const streamUsageWarnRatio = 0.9

// options defines flags for the `compile` command.
type options struct {
	graphs      []string
	tasksFile   string
	configFile  string
	output      string
	dot         string
	concurrency int

	// allocatorConfig holds the flag values overriding the config file.
	allocatorConfig *config.AllocatorConfig
}

// newOptions creates new options for the `compile` command.
func newOptions() *options {
	return &options{allocatorConfig: config.GetDefaultAllocatorConfig()}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to the allocation to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultConfig := config.GetDefaultAllocatorConfig()
	cmd.Flags().StringSliceVar(&o.graphs, "graph", nil, "Graph file to compile (.json, .yaml or .toml), repeat or use ',' to compile several graphs")
	cmd.Flags().StringVar(&o.tasksFile, "tasks", "", "Task file of the graph, only allowed with a single graph")
	cmd.Flags().StringVar(&o.configFile, "config", "", "Path of the configuration file")
	cmd.Flags().StringVar(&o.output, "output", "", "Write the allocated graph and the summary to this file, in MsgPack format when it ends with .msgpack and JSON otherwise")
	cmd.Flags().StringVar(&o.dot, "dot", "", "Write the stream topology in Graphviz DOT format to this file")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", runtime.NumCPU(), "Number of graphs compiled concurrently")

	cmd.Flags().StringVar((*string)(&o.allocatorConfig.SyncMode), "sync-mode", string(defaultConfig.SyncMode), "Synchronization primitive between streams (event|notify)")
	cmd.Flags().BoolVar(&o.allocatorConfig.EnableSingleStream, "single-stream", defaultConfig.EnableSingleStream, "Merge the model onto one stream when it fits on a huge stream")
	cmd.Flags().Int64Var(&o.allocatorConfig.MaxEventNum, "max-event-num", defaultConfig.MaxEventNum, "Maximum number of events of a model")
	cmd.Flags().Int64Var(&o.allocatorConfig.MaxNotifyNum, "max-notify-num", defaultConfig.MaxNotifyNum, "Maximum number of notifies of a model")
	cmd.Flags().StringVar(&o.allocatorConfig.Capacity.File, "capacity-file", defaultConfig.Capacity.File, "Read the device capacity from this file")
	cmd.Flags().Int64Var(&o.allocatorConfig.Capacity.MaxTaskPerStream, "max-task-per-stream", defaultConfig.Capacity.MaxTaskPerStream, "Number of tasks a stream holds")
	cmd.Flags().Int64Var(&o.allocatorConfig.Capacity.MaxStreamNum, "max-stream-num", defaultConfig.Capacity.MaxStreamNum, "Number of streams of the device")
	cmd.Flags().Int64Var(&o.allocatorConfig.Capacity.MaxTaskPerHugeStream, "max-task-per-huge-stream", defaultConfig.Capacity.MaxTaskPerHugeStream, "Number of tasks a single huge stream holds, 0 disables single stream mode")
	cmd.Flags().StringVar(&o.allocatorConfig.Log.Level, "log-level", defaultConfig.Log.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().StringVar(&o.allocatorConfig.Log.File, "log-file", defaultConfig.Log.File, "log file path")
	// the possible error returned from MarkFlagRequired is `no such flag`
	cmd.MarkFlagRequired("graph") //nolint:errcheck
}

func (o *options) loadAndVerifyConfig(cmd *cobra.Command) (*config.AllocatorConfig, error) {
	conf := config.GetDefaultAllocatorConfig()
	if len(o.configFile) > 0 {
		if err := util.StrictDecodeFile(o.configFile, "stream allocator", conf); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "sync-mode":
			conf.SyncMode = o.allocatorConfig.SyncMode
		case "single-stream":
			conf.EnableSingleStream = o.allocatorConfig.EnableSingleStream
		case "max-event-num":
			conf.MaxEventNum = o.allocatorConfig.MaxEventNum
		case "max-notify-num":
			conf.MaxNotifyNum = o.allocatorConfig.MaxNotifyNum
		case "capacity-file":
			conf.Capacity.File = o.allocatorConfig.Capacity.File
		case "max-task-per-stream":
			conf.Capacity.MaxTaskPerStream = o.allocatorConfig.Capacity.MaxTaskPerStream
		case "max-stream-num":
			conf.Capacity.MaxStreamNum = o.allocatorConfig.Capacity.MaxStreamNum
		case "max-task-per-huge-stream":
			conf.Capacity.MaxTaskPerHugeStream = o.allocatorConfig.Capacity.MaxTaskPerHugeStream
		case "log-level":
			conf.Log.Level = o.allocatorConfig.Log.Level
		case "log-file":
			conf.Log.File = o.allocatorConfig.Log.File
		case "graph", "tasks", "config", "output", "dot", "concurrency":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	if err := conf.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	if len(o.graphs) == 0 {
		return nil, cerror.ErrInvalidInput.GenWithStackByArgs("no graph file")
	}
	if len(o.tasksFile) > 0 && len(o.graphs) > 1 {
		return nil, cerror.ErrInvalidInput.GenWithStackByArgs("--tasks can only be used with a single --graph")
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	return conf, nil
}

// report is the outcome of the compilation of one graph file.
type report struct {
	path        string
	graph       string
	nodes       int
	tasks       int
	result      *streamalloc.Result
	output      string
	outputBytes int
	dot         string
}

// compileOutput is the content of the --output file.
type compileOutput struct {
	Result *streamalloc.Result `json:"result"`
	Graph  *graph.GraphDef     `json:"graph"`
}

func (o *options) run(cmd *cobra.Command) error {
	conf, err := o.loadAndVerifyConfig(cmd)
	if err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := util.InitCmd(cmd, conf.Log)
	defer cancel()
	util.InitSignalHandling(ctx, cancel)
	version.LogVersionInfo("stream allocator")
	log.Info("compile graphs",
		zap.Strings("graphs", o.graphs),
		zap.Int("concurrency", o.concurrency),
		zap.String("config", conf.String()))

	reports := make([]*report, len(o.graphs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.concurrency)
	for i, path := range o.graphs {
		i, path := i, path
		eg.Go(func() error {
			r, err := o.compile(egCtx, conf, path)
			if err != nil {
				return errors.Annotatef(err, "compile %s", path)
			}
			reports[i] = r
			return nil
		})
	}
	err = eg.Wait()
	for _, r := range reports {
		if r != nil {
			printReport(cmd, r)
		}
	}
	if err != nil {
		log.Error("compile graphs failed", logutil.ZapErrorFilter(err, context.Canceled))
	}
	return errors.Trace(err)
}

// compile allocates the streams of one graph file and writes the requested
// outputs. Every graph gets its own allocator.
func (o *options) compile(ctx context.Context, conf *config.AllocatorConfig, path string) (*report, error) {
	g, tasks, err := graph.LoadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(o.tasksFile) > 0 {
		if err := graph.LoadTasksFile(o.tasksFile, g, tasks); err != nil {
			return nil, errors.Trace(err)
		}
	}
	result, err := streamalloc.NewAllocator(conf, nil).Run(ctx, g, tasks)
	if err != nil {
		return nil, errors.Trace(err)
	}

	r := &report{
		path:   path,
		graph:  g.Name,
		nodes:  len(g.AllNodes()),
		tasks:  tasks.Count(),
		result: result,
	}
	multiple := len(o.graphs) > 1
	if len(o.output) > 0 {
		r.output = outputPath(o.output, g.Name, multiple)
		r.outputBytes, err = writeOutput(r.output, &compileOutput{Result: result, Graph: g.Def(tasks)})
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	if len(o.dot) > 0 {
		r.dot = outputPath(o.dot, g.Name, multiple)
		if err := os.WriteFile(r.dot, []byte(topology.Build(g).DOT()), 0o644); err != nil {
			return nil, errors.Annotatef(err, "write %s", r.dot)
		}
	}
	return r, nil
}

// writeOutput writes out in MsgPack format when path ends with .msgpack and
// in JSON format otherwise.
func writeOutput(path string, out *compileOutput) (int, error) {
	if !strings.EqualFold(filepath.Ext(path), ".msgpack") {
		return util.WriteJSONFile(path, out)
	}
	data, err := graph.MarshalMsgpack(out)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, errors.Annotatef(err, "write %s", path)
	}
	return len(data), nil
}

// outputPath inserts the graph name before the extension of path when
// several graphs are compiled.
func outputPath(path, name string, multiple bool) string {
	if !multiple {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + name + ext
}

func printReport(cmd *cobra.Command, r *report) {
	res := r.result
	cmd.Printf("%s (%s): %s nodes, %s tasks, %s streams, %s events, %s notifies, %d splits\n",
		r.graph, r.path,
		humanize.Comma(int64(r.nodes)),
		humanize.Comma(int64(r.tasks)),
		humanize.Comma(res.StreamCount),
		humanize.Comma(res.EventCount),
		humanize.Comma(res.NotifyCount),
		res.SplitCount)
	if len(r.output) > 0 {
		cmd.Printf("  output: %s (%s)\n", r.output, humanize.Bytes(uint64(r.outputBytes)))
	}
	if len(r.dot) > 0 {
		cmd.Printf("  topology: %s\n", r.dot)
	}
	if limit := res.Capacity.MaxStreamNum; limit > 0 &&
		float64(res.StreamCount) > float64(limit)*streamUsageWarnRatio {
		cmd.Print(color.HiYellowString("[WARN] %s uses %d of the %d streams of the device\n",
			r.graph, res.StreamCount, limit))
	}
}

// NewCmdCompile creates the `compile` command.
func NewCmdCompile() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "compile",
		Short: "Allocate the streams of graph files and insert their synchronization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)

	return command
}
