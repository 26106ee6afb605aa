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

// Package compaction implements Conversation Compaction (spec §4.10): a
// token-threshold-triggered distillation of an assistant's chat history into
// a single summary message, run as a bus peer independent of the Assistant's
// own turn protocol.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

const systemPrompt = `You are a specialized AI assistant named "Context Distiller." Your sole purpose is to analyze a conversation transcript and produce a concise, structured summary of its current state. This summary's goal is to "hydrate" a new AI instance, allowing it to seamlessly continue the task without the full, token-heavy conversation history.

You must be ruthlessly efficient and objective. Your output is not for a human to read for pleasure, but for another AI to use as a functional starting point.

INPUT FORMAT: you will receive a complete conversation transcript formatted with the tags <system>, <user>, <assistant>, and <tool>.

OUTPUT FORMAT: structure your output as a "## Current State Summary" section covering the overall goal, current focus, key facts and decisions made, tools utilized, and the next step or open question. Omit conversational pleasantries and raw tool output.`

// LLM is the chat-completions call the distillation request drives.
// internal/llmclient.Client satisfies this.
type LLM interface {
	CreateChatCompletion(ctx context.Context, req domain.Request) (domain.Response, error)
}

// ClientFactory builds an LLM bound to one base URL. The compactor calls
// this lazily at trigger time rather than caching a client across
// BaseURLUpdate envelopes, so it is always current.
type ClientFactory func(baseURL string) LLM

// Publisher is the bus-facing side a Compactor drives.
type Publisher interface {
	Publish(env domain.Envelope)
}

// Config parameterizes one Compactor instance.
type Config struct {
	Scope          domain.Scope
	Bus            Publisher
	NewClient      ClientFactory
	Model          string
	TokenThreshold int
	Logger         hclog.Logger
}

// Compactor watches one assistant scope's Response traffic and, once a
// response's token usage crosses the configured threshold, distills the
// conversation prefix preceding the last assistant message into a single
// summary turn.
type Compactor struct {
	scope          domain.Scope
	bus            Publisher
	newClient      ClientFactory
	model          string
	tokenThreshold int
	log            hclog.Logger

	mu      sync.Mutex
	baseURL string
	chat    []domain.ChatMessage
}

// New builds a Compactor for one scope.
func New(cfg Config) *Compactor {
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Compactor{
		scope:          cfg.Scope,
		bus:            cfg.Bus,
		newClient:      cfg.NewClient,
		model:          cfg.Model,
		tokenThreshold: cfg.TokenThreshold,
		log:            log.Named("compaction"),
	}
}

// HandleEnvelope updates cached state from BaseURLUpdate/ChatStateUpdated
// envelopes and triggers the compaction protocol off a Response whose usage
// meets the configured threshold (spec §4.10).
func (c *Compactor) HandleEnvelope(ctx context.Context, env domain.Envelope) error {
	switch env.MessageType {
	case domain.TypeBaseURLUpdate:
		// Accepted regardless of from_scope, matching the Assistant's own
		// BaseURLUpdate handling (spec §4.7.1).
		var msg domain.BaseURLUpdate
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		c.baseURL = msg.BaseURL
		c.mu.Unlock()
		return nil

	case domain.TypeChatStateUpdated:
		if env.FromScope != c.scope {
			return nil
		}
		var msg domain.ChatStateUpdated
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		c.chat = msg.Chat
		c.mu.Unlock()
		return nil

	case domain.TypeResponse:
		if env.FromScope != c.scope {
			return nil
		}
		var msg domain.Response
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if msg.Usage.TotalTokens >= c.tokenThreshold {
			c.trigger(ctx)
		}
		return nil

	default:
		return nil
	}
}

func (c *Compactor) trigger(ctx context.Context) {
	c.mu.Lock()
	baseURL := c.baseURL
	chat := append([]domain.ChatMessage(nil), c.chat...)
	c.mu.Unlock()

	if baseURL == "" {
		c.log.Warn("cannot compact: no base URL")
		return
	}
	if chat == nil {
		c.log.Warn("cannot compact: no chat state available")
		return
	}

	c.bus.Publish(c.envelope(domain.TypeQueueStatusChange, domain.QueueStatusChange{
		Agent:  c.scope,
		Status: domain.Wait(domain.WaitCompactingConversation),
	}))

	window, compactedTo, ok := compactionWindow(chat)
	if !ok {
		c.log.Info("skipping compaction: no compaction boundary found")
		return
	}

	summary, err := c.distill(ctx, baseURL, window)
	if err != nil {
		c.log.Error("failed to compact conversation", "error", err)
		c.bus.Publish(c.envelope(domain.TypeQueueStatusChange, domain.QueueStatusChange{
			Agent:  c.scope,
			Status: domain.Wait(domain.WaitForUserInput),
		}))
		return
	}

	c.bus.Publish(c.envelope(domain.TypeCompactedConversation, domain.CompactedConversation{
		Agent: c.scope,
		Messages: []domain.ChatMessage{{
			Role: "user",
			Content: fmt.Sprintf(
				"Below is the current state from the last task you were executing before your history was compacted:\n\n<current_state_summary>%s</current_state_summary>\n\nContinue where you left off",
				summary,
			),
		}},
		CompactedTo: compactedTo,
	}))
}

// compactionWindow locates the last assistant message in chat and returns
// everything strictly before it, along with its originating request ID
// (spec §4.10 step 3). ok is false when no boundary exists (no assistant
// message, or the assistant message is the first entry).
func compactionWindow(chat []domain.ChatMessage) (window []domain.ChatMessage, compactedTo string, ok bool) {
	for idx := len(chat) - 1; idx >= 0; idx-- {
		if chat[idx].Role != "assistant" {
			continue
		}
		if idx == 0 {
			return nil, "", false
		}
		return chat[:idx], chat[idx].RequestID, true
	}
	return nil, "", false
}

func (c *Compactor) distill(ctx context.Context, baseURL string, window []domain.ChatMessage) (string, error) {
	client := c.newClient(baseURL)

	req := domain.Request{
		Agent:     c.scope,
		RequestID: "compaction",
		Messages: []domain.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: serializeWindow(window)},
		},
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.Message.Content == "" {
		return "", fmt.Errorf("compaction: no valid response content from LLM")
	}
	return resp.Message.Content, nil
}

// serializeWindow renders the compaction window as a single tagged
// transcript (spec §4.10 step 4).
func serializeWindow(window []domain.ChatMessage) string {
	parts := make([]string, 0, len(window))
	for _, msg := range window {
		switch msg.Role {
		case "system":
			parts = append(parts, fmt.Sprintf("<system>%s</system>", msg.Content))
		case "user":
			parts = append(parts, fmt.Sprintf("<user>%s</user>", msg.Content))
		case "assistant":
			parts = append(parts, fmt.Sprintf("<assistant>%s</assistant>", msg.Content))
		case "tool":
			parts = append(parts, fmt.Sprintf(`<tool name="%s">%s</tool>`, msg.Name, msg.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}

func (c *Compactor) envelope(messageType string, payload any) domain.Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		// payload types are all internal and always marshal cleanly.
		panic(fmt.Sprintf("compaction: marshal %s: %v", messageType, err))
	}
	return domain.Envelope{FromScope: c.scope, MessageType: messageType, Payload: data}
}
