// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command agentkernel is a reference CLI over pkg/runtime: useful for
// smoke-testing a policy/manifest configuration and for running a single
// process's worth of agents, but it is a collaborator, not the product
// (spec's Non-goals exclude a built-in API/UI surface; that is left to
// embedders of pkg/runtime).
//
// Usage:
//
//	agentkernel serve --config runtime.yaml
//	agentkernel validate --config runtime.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentkernel/pkg/logging"
)

// exit codes, per spec.md §6's CLI surface contract.
const (
	exitSuccess = 0
	exitGeneric = 1
	exitUsage   = 2
	exitPolicy  = 3
	exitInfra   = 4
)

// CLI is the kong command tree.
type CLI struct {
	LogLevel  string `help:"Log level: debug, info, warn, error." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format: simple or verbose." default:"simple" enum:"simple,verbose"`

	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Validate ValidateCmd `cmd:"" help:"Validate a runtime config, policy file, and manifest directory."`
	Serve    ServeCmd    `cmd:"" help:"Run the runtime and its HTTP surface until interrupted."`
}

func main() {
	cli := CLI{}
	parseCtx := kong.Parse(&cli,
		kong.Name("agentkernel"),
		kong.Description("Reference runtime CLI for the agent kernel (not the product surface)."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			if code != 0 {
				os.Exit(exitUsage)
			}
			os.Exit(exitSuccess)
		}),
	)

	level, _ := logging.ParseLevel(cli.LogLevel)
	logging.Init(level, os.Stderr, cli.LogFormat)

	err := parseCtx.Run()
	if err == nil {
		os.Exit(exitSuccess)
	}

	fmt.Fprintln(os.Stderr, "agentkernel:", err)
	os.Exit(exitCodeFor(err))
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("agentkernel (dev build)")
	return nil
}
