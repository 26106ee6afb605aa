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

package promptcomposer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

const testScope domain.Scope = "test-agent-scope"

func TestKeyValidation(t *testing.T) {
	require.True(t, ValidateKey("file_reader:open_files"))
	require.True(t, ValidateKey("git-status:branch_info"))
	require.True(t, ValidateKey("shell:current_directory"))
	require.True(t, ValidateKey("actor123:data-1"))

	require.False(t, ValidateKey("FileReader:OpenFiles"))
	require.False(t, ValidateKey("file_reader"))
	require.False(t, ValidateKey("file_reader::data"))
	require.False(t, ValidateKey("file@reader:data"))
	require.False(t, ValidateKey(""))
}

func TestTextContribution(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "shell:cwd", Kind: domain.PromptText,
		Text: "Current directory: /home/user/project", Priority: 100, Section: "Context",
	})

	result := c.Render(testScope)
	require.Contains(t, result, "Current directory: /home/user/project")
	require.Contains(t, result, "## Context")
}

func TestDataContributionWithDefaultTemplate(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "file_reader:files", Kind: domain.PromptData,
		Data: map[string]any{
			"files": []map[string]any{
				{"Name": "main.rs", "Lines": 100},
				{"Name": "lib.rs", "Lines": 50},
			},
		},
		DefaultTemplate: "Files:\n{{range .files}}- {{.Name}} ({{.Lines}} lines)\n{{end}}",
		Priority:        200, Section: "Context",
	})

	result := c.Render(testScope)
	require.Contains(t, result, "Files:")
	require.Contains(t, result, "- main.rs (100 lines)")
	require.Contains(t, result, "- lib.rs (50 lines)")
}

func TestTemplateOverride(t *testing.T) {
	c := New(Config{
		Scope:     testScope,
		Overrides: map[string]string{"file_reader:files": "Custom template: {{len .files}} files"},
	})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "file_reader:files", Kind: domain.PromptData,
		Data:            map[string]any{"files": []int{1, 2, 3}},
		DefaultTemplate: "Default template",
		Priority:        100, Section: "Context",
	})

	result := c.Render(testScope)
	require.Contains(t, result, "Custom template: 3 files")
	require.NotContains(t, result, "Default template")
}

func TestContributionExclusion(t *testing.T) {
	c := New(Config{
		Scope:   testScope,
		Exclude: map[string]struct{}{"excluded:item": {}},
	})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "included:item", Kind: domain.PromptText,
		Text: "This should appear", Priority: 100, Section: "Context",
	})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "excluded:item", Kind: domain.PromptText,
		Text: "This should NOT appear", Priority: 100, Section: "Context",
	})

	result := c.Render(testScope)
	require.Contains(t, result, "This should appear")
	require.NotContains(t, result, "This should NOT appear")
}

func TestPriorityOrdering(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:low", Kind: domain.PromptText,
		Text: "Low priority item", Priority: 10, Section: "Context",
	})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:high", Kind: domain.PromptText,
		Text: "High priority item", Priority: 100, Section: "Context",
	})

	result := c.Render(testScope)
	highPos := strings.Index(result, "High priority item")
	lowPos := strings.Index(result, "Low priority item")
	require.NotEqual(t, -1, highPos)
	require.NotEqual(t, -1, lowPos)
	require.Less(t, highPos, lowPos)
}

func TestMultipleSections(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:context", Kind: domain.PromptText,
		Text: "Context item", Priority: 100, Section: "Context",
	})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:tools", Kind: domain.PromptText,
		Text: "Tools item", Priority: 100, Section: "Tools",
	})

	result := c.Render(testScope)
	require.Contains(t, result, "## Context")
	require.Contains(t, result, "## Tools")
	require.Contains(t, result, "Context item")
	require.Contains(t, result, "Tools item")
}

func TestDefaultSection(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:item", Kind: domain.PromptText,
		Text: "No section specified", Priority: 100,
	})

	result := c.Render(testScope)
	require.Contains(t, result, "## Default")
	require.Contains(t, result, "No section specified")
}

func TestAgentFiltering(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:correct", Kind: domain.PromptText,
		Text: "For this agent", Priority: 100, Section: "Context",
	})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: "other-agent-scope", Key: "test:wrong", Kind: domain.PromptText,
		Text: "For other agent", Priority: 100, Section: "Context",
	})

	result := c.Render(testScope)
	require.Contains(t, result, "For this agent")
	require.NotContains(t, result, "For other agent")
}

func TestRenderIgnoresMismatchedScope(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:correct", Kind: domain.PromptText,
		Text: "For this agent", Priority: 100, Section: "Context",
	})

	require.Equal(t, "", c.Render("some-other-scope"))
}

func TestSystemContextVariables(t *testing.T) {
	c := New(Config{Scope: testScope})
	result := c.Render(testScope)

	require.Contains(t, result, "## SystemContext")
	require.Contains(t, result, "Current working directory:")
	require.Contains(t, result, "Current date and time:")
	require.Contains(t, result, "Operating system:")

	require.Contains(t, c.contributions, "system:current_directory")
	require.Contains(t, c.contributions, "system:datetime")
	require.Contains(t, c.contributions, "system:os_info")
}

func TestRemoveContribution(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "test:item", Kind: domain.PromptText,
		Text: "removable", Priority: 100, Section: "Context",
	})
	require.Contains(t, c.Render(testScope), "removable")

	c.RemoveContribution("test:item")
	require.NotContains(t, c.Render(testScope), "removable")
}

func TestInvalidKeyContributionIsIgnored(t *testing.T) {
	c := New(Config{Scope: testScope})
	c.AddContribution(domain.SystemPromptContribution{
		Agent: testScope, Key: "not-a-valid-key", Kind: domain.PromptText,
		Text: "should not appear", Priority: 100, Section: "Context",
	})

	require.NotContains(t, c.Render(testScope), "should not appear")
}
