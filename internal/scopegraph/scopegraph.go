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

// Package scopegraph tracks the tree of agent scopes: parent/child
// relationships, resident actor ids, and the envelope-filtering needed by
// the actor host to forward a bus envelope only to a scope's own instances
// plus those of its descendants (spec §4.6).
package scopegraph

import (
	"encoding/json"
	"sync"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// Publisher emits bus envelopes on behalf of the graph (AgentSpawned, Exit).
// internal/bus.Bus satisfies this directly with its Publish method; the
// supervisor passes its bus in as is.
type Publisher interface {
	Publish(env domain.Envelope)
}

// node is one scope's bookkeeping.
type node struct {
	parent   domain.Scope
	hasParent bool
	children []domain.Scope
	actorIDs []string
	name     string
}

// Graph is the live scope tree. The zero value is not usable; use New.
type Graph struct {
	bus Publisher

	mu    sync.RWMutex
	nodes map[domain.Scope]*node

	// unresolved holds AgentSpawned arrivals whose parent scope is not yet
	// present, keyed by parent scope (spec §4.6 "out-of-order spawn").
	unresolved map[domain.Scope][]domain.Scope
}

// New creates a Graph rooted at domain.RootScope, broadcasting lifecycle
// envelopes on bus.
func New(bus Publisher) *Graph {
	g := &Graph{
		bus:        bus,
		nodes:      make(map[domain.Scope]*node),
		unresolved: make(map[domain.Scope][]domain.Scope),
	}
	g.nodes[domain.RootScope] = &node{}
	return g
}

// Spawn creates a new scope under parent running actorIDs, named name, and
// emits AgentSpawned. If parent is not yet present in the graph (only
// possible for graphs fed by bus replay rather than direct calls, e.g. a
// visualizer rebuilding state from envelopes) the child is buffered in
// unresolved and attached once parent appears.
func (g *Graph) Spawn(parent domain.Scope, actorIDs []string, name string) domain.Scope {
	scope := domain.NewScope()

	g.mu.Lock()
	g.nodes[scope] = &node{parent: parent, hasParent: true, actorIDs: actorIDs, name: name}
	if p, ok := g.nodes[parent]; ok {
		p.children = append(p.children, scope)
	} else {
		g.unresolved[parent] = append(g.unresolved[parent], scope)
	}
	g.resolveChildrenLocked(scope)
	g.mu.Unlock()

	parentCopy := parent
	g.bus.Publish(envelopeFor(scope, domain.TypeAgentSpawned, domain.AgentSpawned{
		AgentID:    string(scope),
		ParentAgent: &parentCopy,
		Name:       name,
		Actors:     actorIDs,
	}))

	return scope
}

// resolveChildrenLocked attaches any previously-unresolved children waiting
// on scope, now that scope itself is present. Caller holds g.mu.
func (g *Graph) resolveChildrenLocked(scope domain.Scope) {
	waiting, ok := g.unresolved[scope]
	if !ok {
		return
	}
	delete(g.unresolved, scope)
	p := g.nodes[scope]
	p.children = append(p.children, waiting...)
}

// Terminate tears down scope: removes it (and, per spec, its host instances
// via the caller's own teardown of the actor host) and emits Exit. The
// scope's children are left in the graph; a caller tearing down a whole
// subtree terminates depth-first via Descendants.
func (g *Graph) Terminate(scope domain.Scope) {
	g.mu.Lock()
	n, ok := g.nodes[scope]
	if ok && n.hasParent {
		if parent, pok := g.nodes[n.parent]; pok {
			parent.children = removeScope(parent.children, scope)
		}
	}
	delete(g.nodes, scope)
	g.mu.Unlock()

	g.bus.Publish(envelopeFor(scope, domain.TypeExit, domain.Exit{AgentID: string(scope)}))
}

// Descendants returns every scope reachable from scope (not including scope
// itself), used by the actor host to compute its default forwarding filter:
// own scope plus all descendants.
func (g *Graph) Descendants(scope domain.Scope) []domain.Scope {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []domain.Scope
	queue := []domain.Scope{scope}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, child := range n.children {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// Accepts reports whether an envelope from fromScope should be forwarded to
// an instance hosted at scope: itself, or any of its descendants.
func (g *Graph) Accepts(scope, fromScope domain.Scope) bool {
	if scope == fromScope {
		return true
	}
	for _, d := range g.Descendants(scope) {
		if d == fromScope {
			return true
		}
	}
	return false
}

// ActorIDs returns the resident actor ids of scope.
func (g *Graph) ActorIDs(scope domain.Scope) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[scope]
	if !ok {
		return nil, false
	}
	return n.actorIDs, true
}

// Parent returns scope's parent, and whether scope is known and has one
// (the root scope has none).
func (g *Graph) Parent(scope domain.Scope) (domain.Scope, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[scope]
	if !ok || !n.hasParent {
		return "", false
	}
	return n.parent, true
}

func removeScope(scopes []domain.Scope, target domain.Scope) []domain.Scope {
	out := scopes[:0]
	for _, s := range scopes {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func envelopeFor(scope domain.Scope, messageType string, payload any) domain.Envelope {
	return domain.Envelope{FromScope: scope, MessageType: messageType, Payload: mustMarshal(payload)}
}

// mustMarshal panics on failure: every payload here is a plain domain
// struct under our control, never user-supplied data, so a marshal failure
// would indicate a programming error rather than a runtime condition to
// recover from.
func mustMarshal(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return data
}
