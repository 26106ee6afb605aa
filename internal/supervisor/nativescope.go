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

package supervisor

import (
	"context"
	"encoding/json"

	"github.com/SilasMarvin/wasmind-sub001/internal/assistant"
	"github.com/SilasMarvin/wasmind-sub001/internal/builtintools"
	"github.com/SilasMarvin/wasmind-sub001/internal/bus"
	"github.com/SilasMarvin/wasmind-sub001/internal/compaction"
	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/fileengine"
	"github.com/SilasMarvin/wasmind-sub001/internal/promptcomposer"
	"github.com/SilasMarvin/wasmind-sub001/internal/tooladapter"
)

// nativeScope bundles the four core, always-in-process actors every scope
// gets: the turn-taking Assistant, the token-threshold-triggered Compactor,
// the System-Prompt Composer, and a Tool Adapter exposing the built-in
// file-engine tools (spec §4.7, §4.8, §4.9, §4.10, §4.11). These run on the
// bus directly rather than as go-plugin subprocesses — see DESIGN.md for
// the native/external actor split this implies for RequiredSpawnWith.
//
// Each nativeScope owns its own bus subscription and dispatch goroutine
// (started by spawnNative, stopped by stop), mirroring
// internal/actorhost.Host's one-dispatch-loop-per-scope pattern: delivery
// within a scope is single-threaded, but distinct scopes never block one
// another even when one scope's Assistant is blocked on an outbound LLM
// call (spec §4.5, §5).
type nativeScope struct {
	scope     domain.Scope
	assistant *assistant.Assistant
	compactor *compaction.Compactor
	composer  *promptcomposer.Composer
	adapter   *tooladapter.Adapter
	engine    *fileengine.Engine
	newLLM    func(baseURL string) assistant.LLM

	sub    *bus.Subscription
	cancel context.CancelFunc
}

// spawnNative builds and registers scope's native actors, then starts its
// own dispatch goroutine over a fresh bus subscription. requiredExternal
// names the external (go-plugin) actor logical names the root Assistant
// should wait on before leaving AwaitingActors (spec §4.7.2); built-in
// tools publish ToolsAvailable synchronously during construction and never
// need to be awaited.
func (s *Supervisor) spawnNative(ctx context.Context, scope domain.Scope, requiredExternal []string) *nativeScope {
	engine := fileengine.New()
	tools, err := builtintools.Tools(engine)
	if err != nil {
		s.log.Error("failed to build built-in tools", "scope", scope, "error", err)
	}

	adapter, err := tooladapter.New(scope, s.bus, tools)
	if err != nil {
		s.log.Error("failed to register built-in tools", "scope", scope, "error", err)
	}
	adapter.PublishToolsAvailable()

	composer := promptcomposer.New(promptcomposer.Config{Scope: scope})

	compactor := compaction.New(compaction.Config{
		Scope:          scope,
		Bus:            s.bus,
		NewClient:      s.compactionClientFactory,
		Model:          s.llmConfig.Model,
		TokenThreshold: s.llmConfig.TokenThreshold,
		Logger:         s.log,
	})

	asst := assistant.New(assistant.Config{
		Scope:             scope,
		Bus:               s.bus,
		LLM:               s.newLLMClient(s.llmConfig.BaseURL),
		Composer:          composer,
		TokenThreshold:    s.llmConfig.TokenThreshold,
		Model:             s.llmConfig.Model,
		RequiredSpawnWith: requiredExternal,
	})

	scopeCtx, cancel := context.WithCancel(ctx)
	ns := &nativeScope{
		scope:     scope,
		assistant: asst,
		compactor: compactor,
		composer:  composer,
		adapter:   adapter,
		engine:    engine,
		newLLM:    func(baseURL string) assistant.LLM { return s.newLLMClient(baseURL) },
		sub:       s.bus.Subscribe(),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.natives[scope] = ns
	s.mu.Unlock()

	go s.nativeDispatchLoop(scopeCtx, ns)

	return ns
}

// stop cancels the scope's dispatch goroutine and closes its subscription.
// Called from handleExit once the scope's Exit envelope is observed.
func (ns *nativeScope) stop() {
	ns.cancel()
	ns.sub.Close()
}

// handleEnvelope fans one bus envelope out to every native peer of this
// scope. Each peer applies its own from_scope filtering internally (spec
// §4.7.1, §4.10), so forwarding every envelope unconditionally is safe.
// BaseURLUpdate is accepted regardless of from_scope (spec §4.7.1), so it is
// applied here directly rather than left to Assistant's internal filter.
func (ns *nativeScope) handleEnvelope(ctx context.Context, log errorLogger, env domain.Envelope) {
	if env.MessageType == domain.TypeBaseURLUpdate {
		var msg domain.BaseURLUpdate
		if err := json.Unmarshal(env.Payload, &msg); err == nil {
			ns.assistant.SetLLM(ns.newLLM(msg.BaseURL))
		}
	}
	if err := ns.assistant.HandleEnvelope(env); err != nil {
		log.Error("assistant envelope handling failed", "scope", ns.scope, "error", err)
	}
	if err := ns.compactor.HandleEnvelope(ctx, env); err != nil {
		log.Error("compactor envelope handling failed", "scope", ns.scope, "error", err)
	}
	if err := ns.adapter.HandleEnvelope(ctx, env); err != nil {
		log.Error("tool adapter envelope handling failed", "scope", ns.scope, "error", err)
	}
	if env.MessageType == domain.TypeSystemPromptContribution {
		var contribution domain.SystemPromptContribution
		if err := json.Unmarshal(env.Payload, &contribution); err == nil {
			ns.composer.AddContribution(contribution)
		}
	}
}

// errorLogger is the minimal logging surface handleEnvelope needs; both
// hclog.Logger and testing fakes satisfy it.
type errorLogger interface {
	Error(msg string, args ...interface{})
}
