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

// Package tooladapter implements the tool-actor contract of spec §4.8: parse
// ExecuteTool arguments against a JSON schema, emit a Received status
// eagerly, run the tool body through host capabilities, and emit exactly one
// Done status carrying both a machine-facing content string and UI display
// hints.
package tooladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// Handler runs one tool call's body. args is the raw JSON the LLM supplied,
// already schema-validated. The returned content is appended verbatim to the
// conversation; ui supplies the collapsed/expanded presentation hint.
type Handler func(ctx context.Context, args json.RawMessage) (content string, ui domain.UIDisplayInfo, err error)

// Tool is one named, schema-described capability an Adapter exposes.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema, as rendered by internal/toolschema
	Handler     Handler
}

// Publisher is the bus-facing side an Adapter drives.
type Publisher interface {
	Publish(env domain.Envelope)
}

// Adapter is bound to exactly one scope and owns zero or more Tools.
type Adapter struct {
	scope domain.Scope
	bus   Publisher

	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// New creates an Adapter exposing tools. Each tool's Parameters is compiled
// once at construction time; a tool whose schema fails to compile is dropped
// and reported via the returned error, so a typo in one tool's schema does
// not silently disable the rest.
func New(scope domain.Scope, bus Publisher, tools []Tool) (*Adapter, error) {
	a := &Adapter{
		scope:    scope,
		bus:      bus,
		tools:    make(map[string]Tool, len(tools)),
		compiled: make(map[string]*jsonschema.Schema, len(tools)),
	}

	var errs []error
	for _, t := range tools {
		compiled, err := compileSchema(t.Name, t.Parameters)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", t.Name, err))
			continue
		}
		a.tools[t.Name] = t
		a.compiled[t.Name] = compiled
	}
	if len(errs) > 0 {
		return a, fmt.Errorf("tooladapter: %d tool schema(s) failed to compile: %w", len(errs), joinErrors(errs))
	}
	return a, nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := name + ".schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(resourceName)
}

// PublishToolsAvailable announces every held tool (spec §4.7.1's inbound
// ToolsAvailable). Call once at startup and again if the tool set changes.
func (a *Adapter) PublishToolsAvailable() {
	a.mu.RLock()
	descriptors := make([]domain.ToolDescriptor, 0, len(a.tools))
	for _, t := range a.tools {
		descriptors = append(descriptors, domain.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	a.mu.RUnlock()

	a.publish(domain.TypeToolsAvailable, domain.ToolsAvailable{Agent: a.scope, Tools: descriptors})
}

// HandleEnvelope dispatches one ExecuteTool envelope already filtered to this
// scope by the host. Every other message type is ignored.
func (a *Adapter) HandleEnvelope(ctx context.Context, env domain.Envelope) error {
	if env.MessageType != domain.TypeExecuteTool {
		return nil
	}
	if env.FromScope != a.scope {
		return nil
	}
	var msg domain.ExecuteTool
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return err
	}
	a.execute(ctx, msg)
	return nil
}

func (a *Adapter) execute(ctx context.Context, msg domain.ExecuteTool) {
	a.mu.RLock()
	tool, ok := a.tools[msg.ToolCall.Name]
	schema := a.compiled[msg.ToolCall.Name]
	a.mu.RUnlock()

	if !ok {
		a.done(msg, domain.ToolOutcome{
			OK:      false,
			Content: fmt.Sprintf("unknown tool %q", msg.ToolCall.Name),
			UI:      domain.UIDisplayInfo{Collapsed: fmt.Sprintf("%s: unknown tool", msg.ToolCall.Name)},
		})
		return
	}

	args := json.RawMessage(msg.ToolCall.Arguments)
	if err := validateArgs(schema, args); err != nil {
		a.done(msg, domain.ToolOutcome{
			OK:      false,
			Content: fmt.Sprintf("invalid arguments for %s: %v", tool.Name, err),
			UI:      domain.UIDisplayInfo{Collapsed: fmt.Sprintf("%s: invalid arguments", tool.Name)},
		})
		return
	}

	a.publish(domain.TypeToolCallStatusUpdate, domain.ToolCallStatusUpdate{
		Agent:              a.scope,
		ID:                 msg.ToolCall.ID,
		OriginatingRequest: msg.OriginatingRequest,
		Status:             domain.ToolStatusReceived,
	})

	content, ui, err := tool.Handler(ctx, args)
	if err != nil {
		a.done(msg, domain.ToolOutcome{OK: false, Content: err.Error(), UI: ui})
		return
	}
	a.done(msg, domain.ToolOutcome{OK: true, Content: content, UI: ui})
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

func (a *Adapter) done(msg domain.ExecuteTool, outcome domain.ToolOutcome) {
	a.publish(domain.TypeToolCallStatusUpdate, domain.ToolCallStatusUpdate{
		Agent:              a.scope,
		ID:                 msg.ToolCall.ID,
		OriginatingRequest: msg.OriginatingRequest,
		Status:             domain.ToolStatusDone,
		Outcome:            &outcome,
	})
}

func (a *Adapter) publish(messageType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	a.bus.Publish(domain.Envelope{FromScope: a.scope, MessageType: messageType, Payload: data})
}

func joinErrors(errs []error) error {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return fmt.Errorf("%s", msg)
}
