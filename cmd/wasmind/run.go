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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/SilasMarvin/wasmind-sub001/internal/supervisor"
)

// RunCmd starts the Lifecycle Supervisor (spec §4.12).
type RunCmd struct {
	Config  string `short:"c" required:"" help:"Path to the root configuration TOML." type:"path"`
	WorkDir string `name:"work-dir" help:"Filesystem root built-in and external actor tools resolve paths against." type:"path" default:"."`
	Prompt  string `help:"Deliver this prompt to the root agent at startup instead of waiting for interactive input (headless mode)."`

	LogLevel string `name:"log-level" help:"Log level (trace, debug, info, warn, error)." default:"info"`
	LogJSON  bool   `name:"log-json" help:"Emit logs as JSON instead of the human-readable format."`

	BusCapacity int `name:"bus-capacity" help:"Envelope buffer per bus subscriber (0 = default)."`
}

func (c *RunCmd) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "wasmind",
		Level:      hclog.LevelFromString(c.LogLevel),
		Output:     os.Stderr,
		JSONFormat: c.LogJSON,
	})

	sup, err := supervisor.New(supervisor.Config{
		ConfigPath:    c.Config,
		WorkDir:       c.WorkDir,
		Logger:        logger,
		BusCapacity:   c.BusCapacity,
		InitialPrompt: c.Prompt,
	})
	if err != nil {
		return fmt.Errorf("wasmind: %w", err)
	}

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("wasmind: %w", err)
	}
	return nil
}
