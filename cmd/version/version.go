// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set via -ldflags "-X github.com/gorse-io/svdrec/cmd/version.Version=...".
var (
	Version   = "unknown-version"
	GitCommit = ""
	BuildTime = ""
)

// APIVersion is the version of the REST API under /api/.
const APIVersion = "v1.0"

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	GoVersion  string `json:"go_version"`
	GitCommit  string `json:"git_commit"`
	BuildTime  string `json:"build_time"`
	Platform   string `json:"platform"`
}

// Get returns build info. Commit and build time fall back to the VCS stamps
// recorded by the Go toolchain when ldflags leave them empty.
func Get() Info {
	info := Info{
		Version:    Version,
		APIVersion: APIVersion,
		GoVersion:  runtime.Version(),
		GitCommit:  GitCommit,
		BuildTime:  BuildTime,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch {
			case setting.Key == "vcs.revision" && info.GitCommit == "":
				info.GitCommit = setting.Value
			case setting.Key == "vcs.time" && info.BuildTime == "":
				info.BuildTime = setting.Value
			}
		}
	}
	if info.GitCommit == "" {
		info.GitCommit = "unknown-commit"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown-buildtime"
	}
	return info
}

func (info Info) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Version:\t %s\n", info.Version)
	fmt.Fprintf(&builder, "API version:\t %s\n", info.APIVersion)
	fmt.Fprintf(&builder, "Go version:\t %s\n", info.GoVersion)
	fmt.Fprintf(&builder, "Git commit:\t %s\n", info.GitCommit)
	fmt.Fprintf(&builder, "Built:\t\t %s\n", info.BuildTime)
	fmt.Fprintf(&builder, "OS/Arch:\t %s\n", info.Platform)
	return builder.String()
}
