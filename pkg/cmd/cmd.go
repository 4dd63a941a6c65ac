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

package cmd

import (
	"os"

	"github.com/dfcompiler/streamalloc/pkg/cmd/compile"
	"github.com/dfcompiler/streamalloc/pkg/cmd/topology"
	"github.com/dfcompiler/streamalloc/pkg/cmd/version"
	cerror "github.com/dfcompiler/streamalloc/pkg/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streamalloc",
		Short: "Assign the nodes of a compute graph to hardware streams",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
}

// AddStreamAllocSubCommands adds all subcommands to the root command.
func AddStreamAllocSubCommands(cmd *cobra.Command) {
	cmd.AddCommand(compile.NewCmdCompile())
	cmd.AddCommand(topology.NewCmdTopology())
	cmd.AddCommand(version.NewCmdVersion())
}

// Run runs the root command.
func Run() {
	cmd := NewCmd()

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	AddStreamAllocSubCommands(cmd)

	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln(color.HiRedString("[%s] %v", cerror.CategoryOf(err), err))
		if cerror.IsResourceExhausted(err) {
			cmd.PrintErrln(color.HiYellowString("the model does not fit the device, " +
				"check --max-stream-num, --max-event-num and --max-notify-num"))
		}
		os.Exit(1)
	}
}
