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

package domain

// Message type tags, used as Envelope.MessageType.
const (
	TypeAgentSpawned            = "lifecycle.agent_spawned"
	TypeExit                    = "lifecycle.exit"
	TypeRequest                 = "assistant.request"
	TypeResponse                = "assistant.response"
	TypeChatStateUpdated        = "assistant.chat_state_updated"
	TypeCompactedConversation   = "assistant.compacted_conversation"
	TypeQueueStatusChange       = "assistant.queue_status_change"
	TypeStatusUpdate            = "assistant.status_update"
	TypeToolsAvailable          = "tool.tools_available"
	TypeExecuteTool             = "tool.execute"
	TypeToolCallStatusUpdate    = "tool.status_update"
	TypeSystemPromptContribution = "prompt.contribution"
	TypeBaseURLUpdate           = "integration.base_url_update"
)

// AgentSpawned announces a new scope to the rest of the bus.
type AgentSpawned struct {
	AgentID      Scope
	ParentAgent  *Scope
	Name         string
	Actors       []string
}

// Exit announces that a scope has torn down.
type Exit struct {
	AgentID Scope
}

// ChatMessage is one entry of the assistant's conversation, tagged with the
// request that produced it so compaction can find turn boundaries.
type ChatMessage struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	Name      string
	ToolCalls []ToolCallSpec
	ToolCallID string
	RequestID string
}

// ToolCallSpec is the LLM's request to invoke a tool.
type ToolCallSpec struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments
}

// ToolDescriptor describes one tool's name, description, and JSON schema, as
// published by a tool actor via ToolsAvailable.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage carries LLM token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is emitted by the assistant immediately before calling the LLM.
type Request struct {
	Agent     Scope
	RequestID string
	Messages  []ChatMessage
	Tools     []ToolDescriptor
}

// Response carries the LLM's reply back onto the bus.
type Response struct {
	Agent     Scope
	RequestID string
	Usage     Usage
	Message   ChatMessage
}

// ChatStateUpdated persists the latest chat-state snapshot for a scope.
type ChatStateUpdated struct {
	Agent   Scope
	Chat    []ChatMessage
}

// CompactedConversation replaces a compacted prefix of the conversation with
// a single summary message.
type CompactedConversation struct {
	Agent       Scope
	Messages    []ChatMessage
	CompactedTo string // originating request_id of the retained boundary
}

// WaitReason enumerates why an assistant is in the Wait status.
type WaitReason string

const (
	WaitForUserInput       WaitReason = "waiting_for_user_input"
	WaitCompactingConversation WaitReason = "compacting_conversation"
	WaitAwaitingChild      WaitReason = "awaiting_child"
)

// QueueStatusChange asks an assistant to enter (or reaffirm) a transient
// status, such as Wait{CompactingConversation}.
type QueueStatusChange struct {
	Agent  Scope
	Status AssistantStatus
}

// StatusUpdate is the assistant's own status broadcast.
type StatusUpdate struct {
	Agent  Scope
	Status AssistantStatus
}

// ToolsAvailable adds or replaces (by name) a tool actor's published tools.
type ToolsAvailable struct {
	Agent Scope
	Tools []ToolDescriptor
}

// ExecuteTool dispatches one tool call to whichever tool actor handles it.
type ExecuteTool struct {
	Agent              Scope
	ToolCall           ToolCallSpec
	OriginatingRequest string
}

// ToolStatusKind enumerates the lifecycle of one tool invocation.
type ToolStatusKind string

const (
	ToolStatusReceived ToolStatusKind = "received"
	ToolStatusDone     ToolStatusKind = "done"
)

// ToolOutcome is Ok or Err, each carrying a machine-facing content string and
// a UI display hint.
type ToolOutcome struct {
	OK      bool
	Content string
	UI      UIDisplayInfo
}

// UIDisplayInfo is presentation metadata attached to a tool outcome.
type UIDisplayInfo struct {
	Collapsed string
	Expanded  string
}

// ToolCallStatusUpdate reports a tool call's progress back to its caller.
type ToolCallStatusUpdate struct {
	Agent              Scope
	ID                 string
	OriginatingRequest string
	Status             ToolStatusKind
	Outcome            *ToolOutcome // set only when Status == ToolStatusDone
}

// PromptContributionKind distinguishes static text from templated data.
type PromptContributionKind string

const (
	PromptText PromptContributionKind = "text"
	PromptData PromptContributionKind = "data"
)

// SystemPromptContribution is one actor's contribution to the composed
// system prompt.
type SystemPromptContribution struct {
	Agent           Scope
	Key             string
	Kind            PromptContributionKind
	Text            string         // set when Kind == PromptText
	Data            map[string]any // set when Kind == PromptData
	DefaultTemplate string         // set when Kind == PromptData
	Priority        int
	Section         string // "" means the default section for this key
}

// BaseURLUpdate sets the assistant's LLM endpoint. Unlike every other
// message variant it is accepted regardless of from_scope (spec §4.7.1).
type BaseURLUpdate struct {
	BaseURL string
}
