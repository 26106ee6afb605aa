// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command wasmind starts the Lifecycle Supervisor against a root
// configuration file, or previews how the system prompt renders for a
// scope without starting a live run.
//
// Usage:
//
//	wasmind run --config wasmind.toml
//	wasmind run --config wasmind.toml --prompt "summarize this repo"
//	wasmind preview --config wasmind.toml --complete
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Start the supervisor and run to completion."`
	Preview PreviewCmd `cmd:"" help:"Render the system prompt for sample scenarios without starting a run."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("wasmind dev")
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("wasmind"),
		kong.Description("wasmind - multi-agent orchestration runtime"),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
