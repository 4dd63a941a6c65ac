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

package version

import (
	"github.com/dfcompiler/streamalloc/pkg/cmd/util"
	"github.com/dfcompiler/streamalloc/pkg/version"
	"github.com/spf13/cobra"
)

// info is the JSON form of the version information.
type info struct {
	ReleaseVersion string `json:"release-version"`
	Semver         string `json:"semver,omitempty"`
	GitHash        string `json:"git-hash"`
	GitBranch      string `json:"git-branch"`
	BuildTS        string `json:"utc-build-time"`
	GoVersion      string `json:"go-version"`
}

// NewCmdVersion creates the `version` command.
func NewCmdVersion() *cobra.Command {
	var asJSON bool
	command := &cobra.Command{
		Use:   "version",
		Short: "Output version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return util.JSONPrint(cmd, &info{
					ReleaseVersion: version.ReleaseVersion,
					Semver:         version.ReleaseSemver(),
					GitHash:        version.GitHash,
					GitBranch:      version.GitBranch,
					BuildTS:        version.BuildTS,
					GoVersion:      version.GoVersion,
				})
			}
			cmd.Print(version.GetRawInfo())
			return nil
		},
	}
	command.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return command
}
