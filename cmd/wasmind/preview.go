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
	"fmt"
	"strings"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/promptcomposer"
	"github.com/SilasMarvin/wasmind-sub001/internal/tokens"
	"github.com/SilasMarvin/wasmind-sub001/internal/userconfig"
)

// PreviewCmd renders the system prompt for a handful of representative
// scenarios (no files loaded, files loaded, an active plan, both) so an
// actor author can see how their contributions compose before running a
// live session.
type PreviewCmd struct {
	Config string `short:"c" help:"Root configuration TOML; only its [llm].model is used, to size the token estimate." type:"path"`

	All      bool `help:"Show every scenario (default when no scenario flag is given)."`
	Empty    bool `help:"Show the baseline scenario with no contributions."`
	Files    bool `help:"Show the scenario with file contents contributed."`
	Plan     bool `help:"Show the scenario with an active task plan contributed."`
	Complete bool `help:"Show the scenario with both files and a plan contributed."`
}

func (c *PreviewCmd) Run() error {
	model := "gpt-4"
	if c.Config != "" {
		cfg, err := userconfig.Load(c.Config)
		if err != nil {
			return fmt.Errorf("wasmind: loading %s: %w", c.Config, err)
		}
		if cfg.LLM.Model != "" {
			model = cfg.LLM.Model
		}
	}

	counter, err := tokens.NewCounter(model)
	if err != nil {
		return fmt.Errorf("wasmind: %w", err)
	}

	if !c.All && !c.Empty && !c.Files && !c.Plan && !c.Complete {
		c.All = true
	}

	fmt.Println("SYSTEM PROMPT PREVIEW")
	fmt.Println("Shows how the composed system prompt changes as actors contribute file contents and plan state.")

	scenarios := []struct {
		name        string
		description string
		show        bool
		seed        func(*promptcomposer.Composer)
	}{
		{"Empty State", "No contributions beyond the auto-injected system context.", c.All || c.Empty, seedNothing},
		{"Files Loaded", "The file engine has contributed the contents of files read so far.", c.All || c.Files, seedFiles},
		{"Plan Active", "A task plan is being tracked with tasks in several states.", c.All || c.Plan, seedPlan},
		{"Complete State", "Both files and a plan are contributed, showing the full composed context.", c.All || c.Complete, seedComplete},
	}

	for _, s := range scenarios {
		if !s.show {
			continue
		}
		if err := printScenario(counter, s.name, s.description, s.seed); err != nil {
			return err
		}
	}
	return nil
}

func printScenario(counter *tokens.Counter, title, description string, seed func(*promptcomposer.Composer)) error {
	composer := promptcomposer.New(promptcomposer.Config{Scope: domain.RootScope})
	seed(composer)

	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("SCENARIO: %s\n", title)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println(description)
	fmt.Println()

	rendered := composer.Render(domain.RootScope)
	fmt.Println("RENDERED SYSTEM PROMPT:")
	fmt.Println(strings.Repeat("v", 80))
	fmt.Println(rendered)
	fmt.Println(strings.Repeat("^", 80))
	fmt.Printf("Token estimate: ~%d tokens\n", counter.Count(rendered))
	return nil
}

func seedNothing(*promptcomposer.Composer) {}

func seedFiles(c *promptcomposer.Composer) {
	c.AddContribution(domain.SystemPromptContribution{
		Agent:   domain.RootScope,
		Key:     "fileengine:open_files",
		Kind:    domain.PromptText,
		Section: "Context",
		Text: "src/main.go (42 lines):\n" +
			"1:package main\n2:\n3:func main() {\n4:\tprintln(\"hello\")\n5:}\n\n" +
			"README.md (3 lines):\n1:# Example\n2:\n3:An example project.",
		Priority: 100,
	})
}

func seedPlan(c *promptcomposer.Composer) {
	c.AddContribution(domain.SystemPromptContribution{
		Agent:   domain.RootScope,
		Key:     "planner:active_plan",
		Kind:    domain.PromptText,
		Section: "Context",
		Text: "Plan: Implement user authentication\n" +
			"  [x] Set up database schema for users\n" +
			"  [x] Create user registration endpoint\n" +
			"  [ ] Implement password hashing (in progress)\n" +
			"  [ ] Add login/logout functionality\n" +
			"  [ ] Write unit tests",
		Priority: 100,
	})
}

func seedComplete(c *promptcomposer.Composer) {
	seedFiles(c)
	seedPlan(c)
}
