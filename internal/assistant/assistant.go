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

// Package assistant implements the per-scope turn-taking state machine
// (spec §4.7): it drives requests to an LLM, dispatches tool calls,
// tracks status, and reacts to compaction and prompt-composition peers.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// LLM is the chat-completions call the turn protocol drives (spec §4.7.3
// step 2). internal/llmclient.Client satisfies this.
type LLM interface {
	CreateChatCompletion(ctx context.Context, req domain.Request) (domain.Response, error)
}

// PromptComposer renders the system prompt an outbound Request is built
// with (spec §4.11). internal/promptcomposer.Composer satisfies this.
type PromptComposer interface {
	Render(scope domain.Scope) string
}

// Publisher is the bus-facing side an Assistant drives.
type Publisher interface {
	Publish(env domain.Envelope)
}

var contributionKeyPattern = regexp.MustCompile(`^[a-z0-9_-]+:[a-z0-9_-]+$`)

// Assistant is bound to exactly one scope.
type Assistant struct {
	scope          domain.Scope
	bus            Publisher
	llm            LLM
	composer       PromptComposer
	tokenThreshold int
	model          string

	requiredSpawnWith map[string]struct{}

	mu        sync.Mutex
	status    domain.AssistantStatus
	chat      []domain.ChatMessage
	tools     map[string]domain.ToolDescriptor
	ready     map[string]struct{}
	pending   map[string]struct{}
	cancelReq context.CancelFunc
}

// Config parameterizes one Assistant instance.
type Config struct {
	Scope             domain.Scope
	Bus               Publisher
	LLM               LLM
	Composer          PromptComposer
	TokenThreshold    int
	Model             string
	RequiredSpawnWith []string
}

// New creates an Assistant. If RequiredSpawnWith is empty the assistant
// starts Idle immediately; otherwise it starts AwaitingActors (spec §4.7.2).
func New(cfg Config) *Assistant {
	required := make(map[string]struct{}, len(cfg.RequiredSpawnWith))
	for _, id := range cfg.RequiredSpawnWith {
		required[id] = struct{}{}
	}

	status := domain.Idle()
	if len(required) > 0 {
		status = domain.AwaitingActors()
	}

	return &Assistant{
		scope:             cfg.Scope,
		bus:               cfg.Bus,
		llm:               cfg.LLM,
		composer:          cfg.Composer,
		tokenThreshold:    cfg.TokenThreshold,
		model:             cfg.Model,
		requiredSpawnWith: required,
		status:            status,
		tools:             make(map[string]domain.ToolDescriptor),
		ready:             make(map[string]struct{}),
	}
}

// SetLLM swaps the client used for subsequent requests. The supervisor
// calls this in response to a BaseURLUpdate it observes on the bus (see
// HandleEnvelope's TypeBaseURLUpdate case); an in-flight request keeps
// using the client it already captured.
func (a *Assistant) SetLLM(llm LLM) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.llm = llm
}

// Status returns the current status (tests and diagnostics only; production
// callers should observe StatusUpdate envelopes instead of polling).
func (a *Assistant) Status() domain.AssistantStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// HandleEnvelope dispatches one bus envelope already filtered by the host's
// scope forwarding (own scope plus descendants) — except BaseURLUpdate,
// which spec §4.7.1 accepts from any scope, so HandleEnvelope itself does
// not reject on scope mismatch; callers forward every envelope and the
// per-handler logic below applies its own scope filter.
func (a *Assistant) HandleEnvelope(env domain.Envelope) error {
	switch env.MessageType {
	case domain.TypeBaseURLUpdate:
		var msg domain.BaseURLUpdate
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		return nil // base URL rebuilds are handled by the supervisor swapping a.llm; nothing to do here structurally

	case domain.TypeToolsAvailable:
		if env.FromScope != a.scope {
			return nil
		}
		var msg domain.ToolsAvailable
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		a.handleToolsAvailable(msg)

	case domain.TypeSystemPromptContribution:
		var msg domain.SystemPromptContribution
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if msg.Agent != a.scope {
			return nil
		}
		if !contributionKeyPattern.MatchString(msg.Key) {
			return &InvalidContributionKeyError{Key: msg.Key}
		}
		// Buffering contributions themselves is the prompt composer's job
		// (spec §4.11); the assistant only enforces the key-format and
		// scope-match gate described in §4.7.1.

	case domain.TypeChatStateUpdated:
		if env.FromScope != a.scope {
			return nil
		}
		var msg domain.ChatStateUpdated
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		a.mu.Lock()
		a.chat = msg.Chat
		a.mu.Unlock()

	case domain.TypeResponse:
		if env.FromScope != a.scope {
			return nil
		}
		var msg domain.Response
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		a.handleResponse(msg)

	case domain.TypeToolCallStatusUpdate:
		if env.FromScope != a.scope {
			return nil
		}
		var msg domain.ToolCallStatusUpdate
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if msg.Status == domain.ToolStatusDone {
			a.handleToolDone(msg)
		}

	case domain.TypeQueueStatusChange:
		if env.FromScope != a.scope {
			return nil
		}
		var msg domain.QueueStatusChange
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		a.setStatus(msg.Status)

	case domain.TypeCompactedConversation:
		if env.FromScope != a.scope {
			return nil
		}
		var msg domain.CompactedConversation
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		a.handleCompacted(msg)
	}
	return nil
}

func (a *Assistant) handleToolsAvailable(msg domain.ToolsAvailable) {
	a.mu.Lock()
	for _, t := range msg.Tools {
		a.tools[t.Name] = t
	}
	for id := range a.requiredSpawnWith {
		// ToolsAvailable doesn't carry an actor id, so any publish from the
		// scope marks every still-pending required actor ready at once.
		a.ready[id] = struct{}{}
	}
	becomeIdle := a.status.Kind == domain.StatusAwaitingActors && len(a.ready) >= len(a.requiredSpawnWith)
	a.mu.Unlock()

	if becomeIdle {
		a.setStatus(domain.Idle())
	}
}

// BeginUserTurn starts a new turn with userText appended to the conversation
// (spec §4.7.3 step 1). Unless the assistant is Idle, it changes nothing and
// returns a *NotIdleError.
func (a *Assistant) BeginUserTurn(ctx context.Context, userText string) error {
	a.mu.Lock()
	if a.status.Kind != domain.StatusIdle {
		a.mu.Unlock()
		return &NotIdleError{Current: a.status.Kind}
	}
	a.chat = append(a.chat, domain.ChatMessage{Role: "user", Content: userText})
	a.mu.Unlock()

	a.setStatus(domain.Processing())
	return a.sendRequest(ctx)
}

func (a *Assistant) sendRequest(ctx context.Context) error {
	a.mu.Lock()
	reqCtx, cancel := context.WithCancel(ctx)
	a.cancelReq = cancel
	llm := a.llm
	req := domain.Request{
		Agent:     a.scope,
		RequestID: uuid.NewString(),
		Messages:  a.renderedMessages(),
		Tools:     a.toolList(),
	}
	a.mu.Unlock()

	a.bus.Publish(envelopeFor(a.scope, domain.TypeRequest, req))

	resp, err := llm.CreateChatCompletion(reqCtx, req)
	cancel()
	if err != nil {
		if reqCtx.Err() != nil {
			// Canceled: Cancel() already drove the state back to Idle.
			return nil
		}
		a.setStatus(domain.ErrorStatus(err.Error()))
		return err
	}

	a.bus.Publish(envelopeFor(a.scope, domain.TypeResponse, resp))
	return a.applyResponse(resp)
}

func (a *Assistant) renderedMessages() []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(a.chat)+1)
	if a.composer != nil {
		out = append(out, domain.ChatMessage{Role: "system", Content: a.composer.Render(a.scope)})
	}
	out = append(out, a.chat...)
	return out
}

func (a *Assistant) toolList() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, t)
	}
	return out
}

func (a *Assistant) applyResponse(resp domain.Response) error {
	a.mu.Lock()
	a.chat = append(a.chat, resp.Message)

	if len(resp.Message.ToolCalls) == 0 {
		a.mu.Unlock()
		a.publishChatState()
		// spec §4.7.1: a Response whose usage crosses token_threshold
		// triggers compaction; the assistant gates itself into Wait
		// immediately rather than waiting on the compaction actor's own
		// QueueStatusChange (which arrives independently and is idempotent
		// with this).
		if a.tokenThreshold > 0 && resp.Usage.TotalTokens >= a.tokenThreshold {
			a.setStatus(domain.Wait(domain.WaitCompactingConversation))
		} else {
			a.setStatus(domain.Idle())
		}
		return nil
	}

	pending := make(map[string]struct{}, len(resp.Message.ToolCalls))
	for _, tc := range resp.Message.ToolCalls {
		pending[tc.ID] = struct{}{}
	}
	a.pending = pending
	calls := append([]domain.ToolCallSpec(nil), resp.Message.ToolCalls...)
	requestID := resp.RequestID
	a.mu.Unlock()

	a.setStatus(domain.AwaitingTools(pending))
	a.publishChatState()

	for _, tc := range calls {
		a.bus.Publish(envelopeFor(a.scope, domain.TypeExecuteTool, domain.ExecuteTool{
			Agent:              a.scope,
			ToolCall:           tc,
			OriginatingRequest: requestID,
		}))
	}
	return nil
}

// handleResponse exists to satisfy spec §4.7.1's inbound list for assistants
// that receive their own published Response (single-process replay, or a
// future multi-instance deployment); the turn protocol's own call to
// applyResponse already advanced state synchronously, so this handler does
// nothing.
func (a *Assistant) handleResponse(domain.Response) {}

func (a *Assistant) handleToolDone(msg domain.ToolCallStatusUpdate) {
	a.mu.Lock()
	if _, ok := a.pending[msg.ID]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, msg.ID)

	content := ""
	if msg.Outcome != nil {
		content = msg.Outcome.Content
	}
	a.chat = append(a.chat, domain.ChatMessage{Role: "tool", Content: content, ToolCallID: msg.ID})

	remaining := make(map[string]struct{}, len(a.pending))
	for id := range a.pending {
		remaining[id] = struct{}{}
	}
	done := len(remaining) == 0
	a.mu.Unlock()

	a.publishChatState()

	if done {
		a.setStatus(domain.Processing())
		_ = a.sendRequest(context.Background())
		return
	}
	a.setStatus(domain.AwaitingTools(remaining))
}

func (a *Assistant) handleCompacted(msg domain.CompactedConversation) {
	a.mu.Lock()
	a.chat = msg.Messages
	a.mu.Unlock()
	a.setStatus(domain.Idle())
	a.publishChatState()
}

// Cancel drops any in-flight LLM request (spec §4.7.4) and returns to Idle.
func (a *Assistant) Cancel() {
	a.mu.Lock()
	cancel := a.cancelReq
	a.cancelReq = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.setStatus(domain.Idle())
}

func (a *Assistant) setStatus(s domain.AssistantStatus) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	a.bus.Publish(envelopeFor(a.scope, domain.TypeStatusUpdate, domain.StatusUpdate{Agent: a.scope, Status: s}))
}

func (a *Assistant) publishChatState() {
	a.mu.Lock()
	chat := append([]domain.ChatMessage(nil), a.chat...)
	a.mu.Unlock()
	a.bus.Publish(envelopeFor(a.scope, domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: a.scope, Chat: chat}))
}

func envelopeFor(scope domain.Scope, messageType string, payload any) domain.Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return domain.Envelope{FromScope: scope, MessageType: messageType, Payload: data}
}

// NotIdleError reports a BeginUserTurn call while the assistant is mid-turn.
type NotIdleError struct {
	Current domain.StatusKind
}

func (e *NotIdleError) Error() string {
	return fmt.Sprintf("assistant: not idle (current status %q)", e.Current)
}

// InvalidContributionKeyError reports a SystemPromptContribution whose key
// does not match `lowercase_alphanumeric_with_hyphens_or_underscores:same`.
type InvalidContributionKeyError struct {
	Key string
}

func (e *InvalidContributionKeyError) Error() string {
	return fmt.Sprintf("assistant: invalid system prompt contribution key %q", e.Key)
}
