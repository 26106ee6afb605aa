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

	"github.com/SilasMarvin/wasmind-sub001/internal/bus"
	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// dispatchLoop is the supervisor's own bus subscriber. It does not fan
// envelopes out to native actors itself — each nativeScope runs its own
// dispatch goroutine over its own subscription (see nativeDispatchLoop) so
// that one scope blocked on an outbound LLM call never stalls another's
// native peers (spec §4.5, §5). This loop only reacts to the two lifecycle
// messages the Scope Graph and go-plugin actors can't handle for
// themselves: spawning a child scope's native peers on AgentSpawned, and
// noticing the root scope's Exit to unblock Run.
func (s *Supervisor) dispatchLoop(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Lagged:
			s.log.Warn("dispatch loop dropped envelopes under backpressure")
		case env, ok := <-sub.Envelopes:
			if !ok {
				return
			}
			switch env.MessageType {
			case domain.TypeAgentSpawned:
				s.handleAgentSpawned(ctx, env)
			case domain.TypeExit:
				s.handleExit(env)
			}
		}
	}
}

// nativeDispatchLoop is the single goroutine that ever calls
// ns.handleEnvelope for ns.scope, guaranteeing in-order, single-threaded
// delivery within a scope while distinct scopes' loops run concurrently
// (mirrors internal/actorhost.Host.dispatchLoop).
func (s *Supervisor) nativeDispatchLoop(ctx context.Context, ns *nativeScope) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ns.sub.Lagged:
			s.log.Warn("scope lagged bus delivery, some envelopes were dropped", "scope", ns.scope)
		case env, ok := <-ns.sub.Envelopes:
			if !ok {
				return
			}
			if env.MessageType != domain.TypeBaseURLUpdate && !s.graph.Accepts(ns.scope, env.FromScope) {
				continue
			}
			ns.handleEnvelope(ctx, s.log, env)
		}
	}
}

// handleAgentSpawned spawns the new scope's native peers and starts any of
// its declared actors that are external binaries (spec §4.2 "SpawnChild").
// RequiredSpawnWith for the child is the subset of its own actor list that
// the closed set resolved as an externally-hosted (go-plugin) binary;
// built-in tools are excluded since they never publish asynchronously.
func (s *Supervisor) handleAgentSpawned(ctx context.Context, env domain.Envelope) {
	var msg domain.AgentSpawned
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		s.log.Error("failed to unmarshal AgentSpawned", "error", err)
		return
	}

	if s.nativeAt(msg.AgentID) != nil {
		return
	}

	var external []string
	for _, name := range msg.Actors {
		if _, ok := s.loaded[name]; ok {
			external = append(external, name)
		}
	}

	s.spawnNative(ctx, msg.AgentID, external)
	if err := s.startExternalActors(msg.AgentID, external); err != nil {
		s.log.Error("failed to start actors for spawned scope", "scope", msg.AgentID, "error", err)
	}
}

func (s *Supervisor) handleExit(env domain.Envelope) {
	var msg domain.Exit
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		s.log.Error("failed to unmarshal Exit", "error", err)
		return
	}

	s.mu.Lock()
	ns, ok := s.natives[msg.AgentID]
	delete(s.natives, msg.AgentID)
	s.mu.Unlock()

	if ok {
		ns.stop()
	}

	if msg.AgentID == domain.RootScope {
		s.exitOnce.Do(func() { close(s.exitCh) })
	}
}
