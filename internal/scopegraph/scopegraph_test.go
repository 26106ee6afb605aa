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

package scopegraph

import (
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

func TestSpawnAttachesChildAndEmitsAgentSpawned(t *testing.T) {
	bus := &fakeBus{}
	g := New(bus)

	child := g.Spawn(domain.RootScope, []string{"assistant"}, "worker")

	require.Contains(t, g.Descendants(domain.RootScope), child)
	require.True(t, g.Accepts(domain.RootScope, child))

	require.Len(t, bus.published, 1)
	require.Equal(t, domain.TypeAgentSpawned, bus.published[0].MessageType)
}

func TestTerminateRemovesFromParentAndEmitsExit(t *testing.T) {
	bus := &fakeBus{}
	g := New(bus)
	child := g.Spawn(domain.RootScope, nil, "worker")

	g.Terminate(child)

	require.NotContains(t, g.Descendants(domain.RootScope), child)
	require.Len(t, bus.published, 2)
	require.Equal(t, domain.TypeExit, bus.published[1].MessageType)
}

func TestDescendantsIsTransitive(t *testing.T) {
	bus := &fakeBus{}
	g := New(bus)
	child := g.Spawn(domain.RootScope, nil, "child")
	grandchild := g.Spawn(child, nil, "grandchild")

	desc := g.Descendants(domain.RootScope)
	require.Contains(t, desc, child)
	require.Contains(t, desc, grandchild)
	require.True(t, g.Accepts(domain.RootScope, grandchild))
	require.False(t, g.Accepts(child, domain.RootScope))
}

func TestOutOfOrderSpawnBuffersUntilParentAppears(t *testing.T) {
	bus := &fakeBus{}
	g := New(bus)

	futureParent := domain.NewScope()
	child := g.Spawn(futureParent, nil, "early-child")
	require.NotContains(t, g.Descendants(domain.RootScope), child)

	parent := g.spawnWithScope(futureParent, domain.RootScope, nil, "now-arrives")
	require.Contains(t, g.Descendants(parent), child)
}

// spawnWithScope lets the out-of-order test pin a specific scope id for the
// "parent arrives late" case, mirroring how a bus-fed visualizer would
// learn of a scope id it didn't choose itself.
func (g *Graph) spawnWithScope(scope, parent domain.Scope, actorIDs []string, name string) domain.Scope {
	g.mu.Lock()
	g.nodes[scope] = &node{parent: parent, hasParent: true, actorIDs: actorIDs, name: name}
	if p, ok := g.nodes[parent]; ok {
		p.children = append(p.children, scope)
	}
	g.resolveChildrenLocked(scope)
	g.mu.Unlock()
	return scope
}
