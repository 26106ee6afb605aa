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

// Package promptcomposer implements the System-Prompt Composer (spec
// §4.11): a pub/sub peer of the Assistant that collects typed contributions
// from actors, groups them by section with stable ordering, and renders a
// single system prompt document.
package promptcomposer

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"sort"
	"text/template"
	"time"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]+:[a-z0-9_-]+$`)

const systemContextSection = "SystemContext"

// predefinedSectionOrder lists every section with a fixed position; any
// section outside this list sorts alphabetically after it (spec §4.11 step
// 3). SystemContext always leads.
var predefinedSectionOrder = []string{systemContextSection, "Identity", "Context", "Tools"}

const defaultBaseTemplate = `{{range .Sections}}## {{.Name}}

{{range .Contributions}}{{.}}

{{end}}{{end}}`

// Config parameterizes one Composer.
type Config struct {
	Scope domain.Scope

	// BaseTemplate drives the final document; its input is
	// {Sections: [{Name, Contributions: [string]}]}.
	BaseTemplate string

	// Overrides maps a contribution key to a template string used instead
	// of that contribution's DefaultTemplate.
	Overrides map[string]string

	// Exclude lists contribution keys to drop entirely.
	Exclude map[string]struct{}

	// SectionDefaults seeds a section with static content, keyed by
	// section name, before any actor contribution is applied.
	SectionDefaults map[string]string
}

// Composer maintains the contribution map for exactly one scope.
type Composer struct {
	scope        domain.Scope
	baseTemplate string
	overrides    map[string]string
	exclude      map[string]struct{}

	contributions map[string]domain.SystemPromptContribution
}

// New creates a Composer seeded with the three auto-injected SystemContext
// contributions (spec §4.11 step 1) and any configured section defaults.
func New(cfg Config) *Composer {
	c := &Composer{
		scope:         cfg.Scope,
		baseTemplate:  cfg.BaseTemplate,
		overrides:     cfg.Overrides,
		exclude:       cfg.Exclude,
		contributions: make(map[string]domain.SystemPromptContribution),
	}
	if c.baseTemplate == "" {
		c.baseTemplate = defaultBaseTemplate
	}

	c.seedSystemContext()
	for section, text := range cfg.SectionDefaults {
		key := fmt.Sprintf("config:%s", section)
		c.contributions[key] = domain.SystemPromptContribution{
			Agent:    c.scope,
			Key:      key,
			Kind:     domain.PromptText,
			Text:     text,
			Priority: 500,
			Section:  section,
		}
	}
	return c
}

func (c *Composer) seedSystemContext() {
	cwd, err := os.Getwd()
	if err == nil {
		c.contributions["system:current_directory"] = domain.SystemPromptContribution{
			Agent: c.scope, Key: "system:current_directory", Kind: domain.PromptText,
			Text: fmt.Sprintf("Current working directory: %s", cwd), Priority: 0, Section: systemContextSection,
		}
	}

	now := time.Now()
	c.contributions["system:datetime"] = domain.SystemPromptContribution{
		Agent: c.scope, Key: "system:datetime", Kind: domain.PromptText,
		Text: fmt.Sprintf("Current date and time: %s UTC (Local: %s)",
			now.UTC().Format("2006-01-02 15:04:05"), now.Format("2006-01-02 15:04:05 MST")),
		Priority: 0, Section: systemContextSection,
	}

	c.contributions["system:os_info"] = domain.SystemPromptContribution{
		Agent: c.scope, Key: "system:os_info", Kind: domain.PromptText,
		Text: fmt.Sprintf("Operating system: %s %s", runtime.GOOS, runtime.GOARCH), Priority: 0, Section: systemContextSection,
	}
}

// ValidateKey reports whether key matches the required
// `^[a-z0-9_-]+:[a-z0-9_-]+$` format.
func ValidateKey(key string) bool {
	return keyPattern.MatchString(key)
}

// AddContribution records or replaces a contribution. A contribution with a
// mismatched agent, a key that fails ValidateKey, or an excluded key is
// silently ignored; callers that need an error for a bad key check it
// beforehand (the Assistant does so per spec §4.7.1).
func (c *Composer) AddContribution(contribution domain.SystemPromptContribution) {
	if contribution.Agent != c.scope {
		return
	}
	if !ValidateKey(contribution.Key) {
		return
	}
	if _, excluded := c.exclude[contribution.Key]; excluded {
		return
	}
	c.contributions[contribution.Key] = contribution
}

// RemoveContribution drops a contribution by key.
func (c *Composer) RemoveContribution(key string) {
	delete(c.contributions, key)
}

type renderedContribution struct {
	section  string
	priority int
	content  string
}

func (c *Composer) renderContribution(contribution domain.SystemPromptContribution) (string, error) {
	switch contribution.Kind {
	case domain.PromptText:
		return contribution.Text, nil
	case domain.PromptData:
		templateStr := contribution.DefaultTemplate
		if override, ok := c.overrides[contribution.Key]; ok {
			templateStr = override
		}
		tmpl, err := template.New(contribution.Key).Parse(templateStr)
		if err != nil {
			return "", fmt.Errorf("promptcomposer: parse template for %q: %w", contribution.Key, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, contribution.Data); err != nil {
			return "", fmt.Errorf("promptcomposer: render template for %q: %w", contribution.Key, err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("promptcomposer: unknown contribution kind %q", contribution.Kind)
	}
}

// Render satisfies assistant.PromptComposer. It renders nothing for any
// scope other than the one this Composer was built for (spec §4.11's
// agent-scope-match invariant applies to the renderer as a whole, not just
// individual contributions) and folds a render error into the returned text
// rather than panicking, since the interface carries no error channel.
func (c *Composer) Render(scope domain.Scope) string {
	if scope != c.scope {
		return ""
	}
	out, err := c.render()
	if err != nil {
		return fmt.Sprintf("<system prompt render error: %s>", err)
	}
	return out
}

// render produces the final system prompt document (spec §4.11 steps 2-5).
func (c *Composer) render() (string, error) {
	var rendered []renderedContribution
	for _, contribution := range c.contributions {
		content, err := c.renderContribution(contribution)
		if err != nil {
			return "", err
		}
		section := contribution.Section
		if section == "" {
			section = "Default"
		}
		rendered = append(rendered, renderedContribution{section: section, priority: contribution.Priority, content: content})
	}

	grouped := make(map[string][]renderedContribution)
	for _, r := range rendered {
		grouped[r.section] = append(grouped[r.section], r)
	}
	for section := range grouped {
		sort.SliceStable(grouped[section], func(i, j int) bool {
			return grouped[section][i].priority > grouped[section][j].priority
		})
	}

	sectionNames := orderedSectionNames(grouped)

	type sectionView struct {
		Name          string
		Contributions []string
	}
	var sections []sectionView
	for _, name := range sectionNames {
		contents := make([]string, len(grouped[name]))
		for i, r := range grouped[name] {
			contents[i] = r.content
		}
		sections = append(sections, sectionView{Name: name, Contributions: contents})
	}

	tmpl, err := template.New("base").Parse(c.baseTemplate)
	if err != nil {
		return "", fmt.Errorf("promptcomposer: parse base template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Sections []sectionView }{Sections: sections}); err != nil {
		return "", fmt.Errorf("promptcomposer: render base template: %w", err)
	}
	return buf.String(), nil
}

func orderedSectionNames(grouped map[string][]renderedContribution) []string {
	seen := make(map[string]bool, len(grouped))
	var ordered []string
	for _, name := range predefinedSectionOrder {
		if _, ok := grouped[name]; ok {
			ordered = append(ordered, name)
			seen[name] = true
		}
	}
	var custom []string
	for name := range grouped {
		if !seen[name] {
			custom = append(custom, name)
		}
	}
	sort.Strings(custom)
	return append(ordered, custom...)
}
