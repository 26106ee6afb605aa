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

package assistant

import (
	"context"
	"encoding/json"
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

func (f *fakeBus) statusUpdates(t *testing.T) []domain.AssistantStatus {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AssistantStatus
	for _, env := range f.published {
		if env.MessageType != domain.TypeStatusUpdate {
			continue
		}
		var msg domain.StatusUpdate
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		out = append(out, msg.Status)
	}
	return out
}

type fakeLLM struct {
	responses []domain.Response
	calls     int
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, req domain.Request) (domain.Response, error) {
	resp := f.responses[f.calls]
	f.calls++
	resp.RequestID = req.RequestID
	resp.Agent = req.Agent
	return resp, nil
}

func TestAwaitingActorsBecomesIdleOnceRequiredActorsReady(t *testing.T) {
	bus := &fakeBus{}
	a := New(Config{Scope: "s1", Bus: bus, RequiredSpawnWith: []string{"tool-actor"}})
	require.Equal(t, domain.StatusAwaitingActors, a.Status().Kind)

	err := a.HandleEnvelope(envelope(t, "s1", domain.TypeToolsAvailable, domain.ToolsAvailable{Agent: "s1"}))
	require.NoError(t, err)
	require.Equal(t, domain.StatusIdle, a.Status().Kind)
}

func TestPlainTurnGoesIdleToProcessingToIdle(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{responses: []domain.Response{{Message: domain.ChatMessage{Role: "assistant", Content: "hi"}, Usage: domain.Usage{TotalTokens: 10}}}}
	a := New(Config{Scope: "s1", Bus: bus, LLM: llm, TokenThreshold: 1000})

	require.NoError(t, a.BeginUserTurn(context.Background(), "hello"))
	require.Equal(t, domain.StatusIdle, a.Status().Kind)

	statuses := bus.statusUpdates(t)
	require.Equal(t, []domain.StatusKind{domain.StatusProcessing, domain.StatusIdle}, kinds(statuses))
}

func TestTurnWithToolCallsGoesToAwaitingToolsThenBackToProcessing(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{responses: []domain.Response{
		{Message: domain.ChatMessage{Role: "assistant", ToolCalls: []domain.ToolCallSpec{{ID: "call_1", Name: "read_file", Arguments: "{}"}}}},
		{Message: domain.ChatMessage{Role: "assistant", Content: "done"}},
	}}
	a := New(Config{Scope: "s1", Bus: bus, LLM: llm})

	require.NoError(t, a.BeginUserTurn(context.Background(), "hello"))
	require.Equal(t, domain.StatusAwaitingTools, a.Status().Kind)

	err := a.HandleEnvelope(envelope(t, "s1", domain.TypeToolCallStatusUpdate, domain.ToolCallStatusUpdate{
		Agent: "s1", ID: "call_1", Status: domain.ToolStatusDone, Outcome: &domain.ToolOutcome{OK: true, Content: "file contents"},
	}))
	require.NoError(t, err)

	require.Equal(t, domain.StatusIdle, a.Status().Kind)
	require.Equal(t, 2, llm.calls)
	require.Equal(t, []domain.StatusKind{domain.StatusProcessing, domain.StatusAwaitingTools, domain.StatusProcessing, domain.StatusIdle}, kinds(bus.statusUpdates(t)))
}

func TestPartialToolCompletionStaysAwaitingTools(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{responses: []domain.Response{
		{Message: domain.ChatMessage{Role: "assistant", ToolCalls: []domain.ToolCallSpec{
			{ID: "call_1", Name: "a"}, {ID: "call_2", Name: "b"},
		}}},
	}}
	a := New(Config{Scope: "s1", Bus: bus, LLM: llm})
	require.NoError(t, a.BeginUserTurn(context.Background(), "hello"))

	err := a.HandleEnvelope(envelope(t, "s1", domain.TypeToolCallStatusUpdate, domain.ToolCallStatusUpdate{
		Agent: "s1", ID: "call_1", Status: domain.ToolStatusDone, Outcome: &domain.ToolOutcome{OK: true},
	}))
	require.NoError(t, err)

	status := a.Status()
	require.Equal(t, domain.StatusAwaitingTools, status.Kind)
	require.Len(t, status.Pending, 1)
	_, stillPending := status.Pending["call_2"]
	require.True(t, stillPending)
}

func TestTokenThresholdTriggersWaitCompacting(t *testing.T) {
	bus := &fakeBus{}
	llm := &fakeLLM{responses: []domain.Response{{Message: domain.ChatMessage{Role: "assistant", Content: "hi"}, Usage: domain.Usage{TotalTokens: 500}}}}
	a := New(Config{Scope: "s1", Bus: bus, LLM: llm, TokenThreshold: 100})

	require.NoError(t, a.BeginUserTurn(context.Background(), "hello"))
	status := a.Status()
	require.Equal(t, domain.StatusWait, status.Kind)
	require.Equal(t, domain.WaitCompactingConversation, status.WaitReason)
}

func TestCompactedConversationReturnsToIdle(t *testing.T) {
	bus := &fakeBus{}
	a := New(Config{Scope: "s1", Bus: bus})
	a.setStatus(domain.Wait(domain.WaitCompactingConversation))

	err := a.HandleEnvelope(envelope(t, "s1", domain.TypeCompactedConversation, domain.CompactedConversation{
		Agent:    "s1",
		Messages: []domain.ChatMessage{{Role: "user", Content: "summary"}},
	}))
	require.NoError(t, err)
	require.Equal(t, domain.StatusIdle, a.Status().Kind)
}

func TestInvalidSystemPromptContributionKeyIsRejected(t *testing.T) {
	bus := &fakeBus{}
	a := New(Config{Scope: "s1", Bus: bus})

	err := a.HandleEnvelope(envelope(t, "s1", domain.TypeSystemPromptContribution, domain.SystemPromptContribution{
		Agent: "s1", Key: "not-a-valid-key", Kind: domain.PromptText, Text: "x",
	}))
	require.Error(t, err)
	var keyErr *InvalidContributionKeyError
	require.ErrorAs(t, err, &keyErr)
}

func TestBaseURLUpdateAcceptedFromAnyScope(t *testing.T) {
	bus := &fakeBus{}
	a := New(Config{Scope: "s1", Bus: bus})
	err := a.HandleEnvelope(envelope(t, "some-other-scope", domain.TypeBaseURLUpdate, domain.BaseURLUpdate{BaseURL: "http://example.com"}))
	require.NoError(t, err)
}

func TestCancelReturnsToIdle(t *testing.T) {
	bus := &fakeBus{}
	a := New(Config{Scope: "s1", Bus: bus})
	a.setStatus(domain.Processing())
	a.Cancel()
	require.Equal(t, domain.StatusIdle, a.Status().Kind)
}

func envelope(t *testing.T, from domain.Scope, messageType string, payload any) domain.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Envelope{FromScope: from, MessageType: messageType, Payload: data}
}

func kinds(statuses []domain.AssistantStatus) []domain.StatusKind {
	out := make([]domain.StatusKind, len(statuses))
	for i, s := range statuses {
		out[i] = s.Kind
	}
	return out
}
