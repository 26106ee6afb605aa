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

package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	published []domain.Envelope
}

func (f *fakeBus) Publish(env domain.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
}

func (f *fakeBus) queueStatusChanges(t *testing.T) []domain.QueueStatusChange {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.QueueStatusChange
	for _, env := range f.published {
		if env.MessageType != domain.TypeQueueStatusChange {
			continue
		}
		var msg domain.QueueStatusChange
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakeBus) compactedConversations(t *testing.T) []domain.CompactedConversation {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CompactedConversation
	for _, env := range f.published {
		if env.MessageType != domain.TypeCompactedConversation {
			continue
		}
		var msg domain.CompactedConversation
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		out = append(out, msg)
	}
	return out
}

type fakeLLM struct {
	response domain.Response
	err      error
	lastReq  domain.Request
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, req domain.Request) (domain.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return domain.Response{}, f.err
	}
	return f.response, nil
}

func envelope(t *testing.T, from domain.Scope, messageType string, payload any) domain.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Envelope{FromScope: from, MessageType: messageType, Payload: data}
}

func chatWithBoundary() []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "working on it", RequestID: "R1"},
		{Role: "tool", Content: "tool output", Name: "search"},
		{Role: "user", Content: "more"},
		{Role: "assistant", Content: "still working", RequestID: "R2"},
		{Role: "user", Content: "latest"},
	}
}

func TestCompactionBoundaryMatchesLastAssistantMessage(t *testing.T) {
	chat := chatWithBoundary()
	window, compactedTo, ok := compactionWindow(chat)
	require.True(t, ok)
	require.Equal(t, "R2", compactedTo)
	require.Equal(t, chat[:4], window)
}

func TestCompactionSkippedWhenFirstMessageIsAssistant(t *testing.T) {
	chat := []domain.ChatMessage{
		{Role: "assistant", Content: "only message", RequestID: "R1"},
		{Role: "user", Content: "reply"},
	}
	_, _, ok := compactionWindow(chat)
	require.False(t, ok)
}

func TestCompactionSkippedWithNoAssistantMessage(t *testing.T) {
	chat := []domain.ChatMessage{{Role: "user", Content: "hi"}}
	_, _, ok := compactionWindow(chat)
	require.False(t, ok)
}

func TestTriggerEmitsCompactingWaitThenCompactedConversation(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{response: domain.Response{Message: domain.ChatMessage{Role: "assistant", Content: "summary text"}}}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000, Model: "distiller-model",
		NewClient: func(baseURL string) LLM { return llm },
	})

	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://localhost:4000"})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: "s1", Chat: chatWithBoundary()})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeResponse, domain.Response{
		Agent: "s1", Usage: domain.Usage{TotalTokens: 1500},
	})))

	statuses := bus.queueStatusChanges(t)
	require.Len(t, statuses, 1)
	require.Equal(t, domain.Wait(domain.WaitCompactingConversation), statuses[0].Status)

	compacted := bus.compactedConversations(t)
	require.Len(t, compacted, 1)
	require.Equal(t, "R2", compacted[0].CompactedTo)
	require.Len(t, compacted[0].Messages, 1)
	require.Contains(t, compacted[0].Messages[0].Content, "Below is the current state from the last task")
	require.Contains(t, compacted[0].Messages[0].Content, "summary text")

	require.Contains(t, llm.lastReq.Messages[0].Content, "Context Distiller")
	require.Contains(t, llm.lastReq.Messages[1].Content, "<assistant>working on it</assistant>")
	require.Contains(t, llm.lastReq.Messages[1].Content, `<tool name="search">tool output</tool>`)
	require.NotContains(t, llm.lastReq.Messages[1].Content, "still working")
}

func TestTriggerBelowThresholdDoesNothing(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000,
		NewClient: func(baseURL string) LLM { return llm },
	})

	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://localhost:4000"})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: "s1", Chat: chatWithBoundary()})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeResponse, domain.Response{
		Agent: "s1", Usage: domain.Usage{TotalTokens: 10},
	})))

	require.Empty(t, bus.published)
}

func TestTriggerWithoutBaseURLDoesNothing(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000,
		NewClient: func(baseURL string) LLM { return llm },
	})

	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: "s1", Chat: chatWithBoundary()})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeResponse, domain.Response{
		Agent: "s1", Usage: domain.Usage{TotalTokens: 2000},
	})))

	require.Empty(t, bus.published)
}

func TestTriggerWithoutChatStateDoesNothing(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000,
		NewClient: func(baseURL string) LLM { return llm },
	})

	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://localhost:4000"})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeResponse, domain.Response{
		Agent: "s1", Usage: domain.Usage{TotalTokens: 2000},
	})))

	require.Empty(t, bus.published)
}

func TestTriggerWithNoBoundaryEmitsOnlyWaitStatus(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000,
		NewClient: func(baseURL string) LLM { return llm },
	})

	chat := []domain.ChatMessage{{Role: "assistant", Content: "only message", RequestID: "R1"}}
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://localhost:4000"})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: "s1", Chat: chat})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeResponse, domain.Response{
		Agent: "s1", Usage: domain.Usage{TotalTokens: 2000},
	})))

	require.Len(t, bus.queueStatusChanges(t), 1)
	require.Empty(t, bus.compactedConversations(t))
}

func TestTriggerOnLLMFailureFallsBackToWaitingForUserInput(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{err: fmt.Errorf("boom")}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000,
		NewClient: func(baseURL string) LLM { return llm },
	})

	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://localhost:4000"})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: "s1", Chat: chatWithBoundary()})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeResponse, domain.Response{
		Agent: "s1", Usage: domain.Usage{TotalTokens: 2000},
	})))

	statuses := bus.queueStatusChanges(t)
	require.Len(t, statuses, 2)
	require.Equal(t, domain.Wait(domain.WaitCompactingConversation), statuses[0].Status)
	require.Equal(t, domain.Wait(domain.WaitForUserInput), statuses[1].Status)
	require.Empty(t, bus.compactedConversations(t))
}

func TestEnvelopeFromOtherScopeDoesNotUpdateChatOrTrigger(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{}
	c := New(Config{
		Scope: "s1", Bus: bus, TokenThreshold: 1000,
		NewClient: func(baseURL string) LLM { return llm },
	})

	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "s1", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://localhost:4000"})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "other-scope", domain.TypeChatStateUpdated, domain.ChatStateUpdated{Agent: "other-scope", Chat: chatWithBoundary()})))
	require.NoError(t, c.HandleEnvelope(context.Background(), envelope(t, "other-scope", domain.TypeResponse, domain.Response{
		Agent: "other-scope", Usage: domain.Usage{TotalTokens: 2000},
	})))

	require.Empty(t, bus.published)
}
