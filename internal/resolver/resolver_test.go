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

package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// fakeLoader serves manifests from an in-memory map keyed by source path,
// so tests don't touch the filesystem or a source cache.
type fakeLoader struct {
	manifests map[string]*domain.ActorManifest
}

func (f *fakeLoader) LoadManifest(source domain.SourceRef) (*domain.ActorManifest, error) {
	m, ok := f.manifests[source.Path]
	if !ok {
		return nil, fmt.Errorf("no manifest for %s", source.Path)
	}
	return m, nil
}

func localActor(name, path string) domain.ActorDecl {
	return domain.ActorDecl{LogicalName: name, Source: domain.SourceRef{Path: path}}
}

func TestResolverDetectsCycle(t *testing.T) {
	loader := &fakeLoader{manifests: map[string]*domain.ActorManifest{
		"/a": {ActorID: "a", Dependencies: map[string]domain.ManifestDependency{
			"b": {Source: domain.SourceRef{Path: "/b"}},
		}},
		"/b": {ActorID: "b", Dependencies: map[string]domain.ManifestDependency{
			"a": {Source: domain.SourceRef{Path: "/a"}},
		}},
	}}

	r := New(loader)
	_, err := r.ResolveAll([]domain.ActorDecl{localActor("a", "/a")}, nil)
	require.Error(t, err)

	var cycle *CircularDependencyError
	require.ErrorAs(t, err, &cycle)
}

func TestResolverDetectsConflictingSources(t *testing.T) {
	loader := &fakeLoader{manifests: map[string]*domain.ActorManifest{
		"/x": {ActorID: "x", Dependencies: map[string]domain.ManifestDependency{
			"util": {Source: domain.SourceRef{Path: "/p1"}},
		}},
		"/y": {ActorID: "y", Dependencies: map[string]domain.ManifestDependency{
			"util": {Source: domain.SourceRef{Path: "/p2"}},
		}},
		"/p1": {ActorID: "util"},
	}}

	r := New(loader)
	_, err := r.ResolveAll([]domain.ActorDecl{localActor("x", "/x"), localActor("y", "/y")}, nil)
	require.Error(t, err)

	var conflict *ConflictingSourcesError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "util", conflict.LogicalName)
}

func TestResolverProducesClosedSet(t *testing.T) {
	loader := &fakeLoader{manifests: map[string]*domain.ActorManifest{
		"/assistant": {ActorID: "assistant", Dependencies: map[string]domain.ManifestDependency{
			"tool": {Source: domain.SourceRef{Path: "/tool"}},
		}},
		"/tool": {ActorID: "tool"},
	}}

	r := New(loader)
	resolved, err := r.ResolveAll([]domain.ActorDecl{localActor("assistant", "/assistant")}, nil)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, "assistant", resolved["assistant"].ActorID)
	require.Equal(t, "tool", resolved["tool"].ActorID)
	require.True(t, resolved["tool"].IsDependency)
	require.False(t, resolved["assistant"].IsDependency)
}

func TestResolverActorAndOverrideConflict(t *testing.T) {
	loader := &fakeLoader{manifests: map[string]*domain.ActorManifest{"/a": {ActorID: "a"}}}

	r := New(loader)
	_, err := r.ResolveAll(
		[]domain.ActorDecl{localActor("a", "/a")},
		[]domain.ActorDecl{localActor("a", "/a")},
	)
	require.Error(t, err)
	var conflict *ActorAndOverrideConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestResolverOverrideMergesConfigAndReplacesSource(t *testing.T) {
	loader := &fakeLoader{manifests: map[string]*domain.ActorManifest{
		"/assistant": {ActorID: "assistant", Dependencies: map[string]domain.ManifestDependency{
			"util": {Source: domain.SourceRef{Path: "/util"}, Config: map[string]any{"level": "info", "retries": 3}},
		}},
		"/util":     {ActorID: "util"},
		"/util-fork": {ActorID: "util-fork"},
	}}

	r := New(loader)
	override := domain.ActorDecl{
		LogicalName: "util",
		Source:      domain.SourceRef{Path: "/util-fork"},
		Config:      map[string]any{"level": "debug"},
	}
	resolved, err := r.ResolveAll(
		[]domain.ActorDecl{localActor("assistant", "/assistant")},
		[]domain.ActorDecl{override},
	)
	require.NoError(t, err)

	util := resolved["util"]
	require.Equal(t, "/util-fork", util.Source.Path)
	require.Equal(t, "debug", util.Config["level"])
	require.Equal(t, 3, util.Config["retries"])
}

func TestResolverOverrideForNonExistentDependency(t *testing.T) {
	loader := &fakeLoader{manifests: map[string]*domain.ActorManifest{"/a": {ActorID: "a"}}}

	r := New(loader)
	_, err := r.ResolveAll(
		[]domain.ActorDecl{localActor("a", "/a")},
		[]domain.ActorDecl{localActor("ghost", "/ghost")},
	)
	require.Error(t, err)
	var missing *OverrideForNonExistentDependencyError
	require.ErrorAs(t, err, &missing)
}
