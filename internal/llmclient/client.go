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

// Package llmclient sends the assistant's Request to the configured
// <base_url>/v1/chat/completions endpoint (spec §4.7.3) over a retrying
// transport (spec §4.5's HTTP capability: capped retries, configurable
// retriable status codes, per-request timeout).
package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/httpretry"
)

// Config parameterizes one Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Client sends chat-completions requests against an OpenAI-compatible
// endpoint.
type Client struct {
	oa    *openai.Client
	model string
}

// New builds a Client. BaseURL may point at any OpenAI-compatible server;
// it is reconfigurable at runtime via BaseURLUpdate (spec §4.7.1), handled
// by constructing a fresh Client when that envelope arrives.
func New(cfg Config) *Client {
	retrier := httpretry.New(
		httpretry.WithMaxRetries(cfg.MaxRetries),
		httpretry.WithBaseDelay(cfg.BaseDelay),
		httpretry.WithHeaderParser(httpretry.ParseOpenAIHeaders),
	)

	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	oaCfg.HTTPClient = httpretry.AsHTTPClient(retrier)

	return &Client{oa: openai.NewClientWithConfig(oaCfg), model: cfg.Model}
}

// CreateChatCompletion sends req and parses the single choice the assistant
// state machine consumes.
func (c *Client) CreateChatCompletion(ctx context.Context, req domain.Request) (domain.Response, error) {
	oaReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}

	resp, err := c.oa.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return domain.Response{}, &RequestError{RequestID: req.RequestID, Err: err}
	}
	if len(resp.Choices) == 0 {
		return domain.Response{}, &RequestError{RequestID: req.RequestID, Err: fmt.Errorf("no choices returned")}
	}

	choice := resp.Choices[0]
	return domain.Response{
		Agent:     req.Agent,
		RequestID: req.RequestID,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Message: fromOpenAIMessage(choice.Message),
	}, nil
}

func toOpenAIMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []domain.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) domain.ChatMessage {
	out := domain.ChatMessage{Role: msg.Role, Content: msg.Content, Name: msg.Name, ToolCallID: msg.ToolCallID}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCallSpec{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// RequestError wraps a chat-completions failure after the retrying
// transport exhausted its attempts, or a malformed response.
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("llmclient: request %s: %v", e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
