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

// Package resolver walks declared actors and their manifests, merges user
// overrides, detects cycles and source conflicts, and produces the closed
// set of resolved actors (spec §4.2).
package resolver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/manifest"
)

// ManifestLoader loads an actor manifest from a materialized source
// directory. Production code backs this with the source cache plus
// manifest.Load; tests back it with a fake.
type ManifestLoader interface {
	LoadManifest(source domain.SourceRef) (*domain.ActorManifest, error)
}

// Resolver implements the depth-first resolution algorithm of spec §4.2.
type Resolver struct {
	loader ManifestLoader

	resolved map[string]domain.ResolvedActor
	stack    []string // logical names currently being resolved, for cycle detection

	globalOverrides map[string]domain.ActorDecl // user-actors that can override a dependency of the same name
	explicitOverrides map[string]domain.ActorDecl
}

// New creates a Resolver backed by loader.
func New(loader ManifestLoader) *Resolver {
	return &Resolver{
		loader:   loader,
		resolved: make(map[string]domain.ResolvedActor),
	}
}

// ResolveAll resolves every userActor (and transitively, every dependency
// they declare), applying actorOverrides. It returns the closed map of
// logical_name -> ResolvedActor, or the first error encountered.
func (r *Resolver) ResolveAll(userActors, actorOverrides []domain.ActorDecl) (map[string]domain.ResolvedActor, error) {
	r.globalOverrides = declsByName(userActors)
	r.explicitOverrides = declsByName(actorOverrides)

	for name := range r.explicitOverrides {
		if _, ok := r.globalOverrides[name]; ok {
			return nil, &ActorAndOverrideConflictError{LogicalName: name}
		}
	}

	for _, actor := range userActors {
		if err := r.resolveActor(actor.LogicalName, actor.Source, actor, ""); err != nil {
			return nil, err
		}
	}

	for name := range r.explicitOverrides {
		if _, ok := r.resolved[name]; !ok {
			return nil, &OverrideForNonExistentDependencyError{LogicalName: name}
		}
	}

	return r.resolved, nil
}

// resolveActor resolves one logical name. declaredSource is the source the
// *caller* (parent actor, or the user declaration for a root) wants this
// actor to use; parentDir is the parent's materialized directory, used to
// resolve relative local paths (empty for root user-actors).
func (r *Resolver) resolveActor(logicalName string, declaredSource domain.SourceRef, userDecl domain.ActorDecl, parentDir string) error {
	for _, onStack := range r.stack {
		if onStack == logicalName {
			return &CircularDependencyError{Path: append(append([]string{}, r.stack...), logicalName)}
		}
	}

	if existing, ok := r.resolved[logicalName]; ok {
		if !existing.Source.Equal(declaredSource) {
			return &ConflictingSourcesError{
				LogicalName: logicalName,
				Source1:     existing.Source,
				Source2:     declaredSource,
			}
		}
		return nil
	}

	r.stack = append(r.stack, logicalName)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	resolvedSource := resolveRelative(declaredSource, parentDir)

	m, err := r.loader.LoadManifest(resolvedSource)
	if err != nil {
		return err
	}

	resolved := domain.ResolvedActor{
		LogicalName:       logicalName,
		ActorID:           m.ActorID,
		Source:            resolvedSource,
		Config:            userDecl.Config,
		AutoSpawn:         userDecl.AutoSpawn,
		RequiredSpawnWith: m.RequiredSpawnWith,
		IsDependency:      parentDir != "",
	}
	if userDecl.HasRequiredSpawnWith {
		resolved.RequiredSpawnWith = userDecl.RequiredSpawnWith
	}

	// Apply overrides: global override first, explicit actor-override refines
	// further (spec §4.2 step 3.d).
	if global, ok := r.globalOverrides[logicalName]; ok && parentDir != "" {
		resolved = applyOverride(resolved, global)
	}
	if explicit, ok := r.explicitOverrides[logicalName]; ok {
		resolved = applyOverride(resolved, explicit)
	}

	r.resolved[logicalName] = resolved

	actorDir := filepath.Dir(filepath.Join(resolvedSource.Path, manifest.FileName))
	if !resolvedSource.IsLocal() {
		actorDir = "" // dependencies of a Git-sourced actor resolve relative sources against its checkout, handled by the source cache at build time
	}

	for depName, dep := range m.Dependencies {
		depDecl := domain.ActorDecl{
			LogicalName: depName,
			Source:      dep.Source,
			Config:      dep.Config,
			AutoSpawn:   dep.AutoSpawn,
			HasAutoSpawn: dep.HasAutoSpawn,
		}
		if err := r.resolveActor(depName, dep.Source, depDecl, actorDir); err != nil {
			return err
		}
	}

	return nil
}

// applyOverride refines resolved with the fields set on decl, per spec
// §4.2.3.d: the override replaces the source, deep-merges config, sets
// auto_spawn, and sets required_spawn_with if nonempty.
func applyOverride(resolved domain.ResolvedActor, decl domain.ActorDecl) domain.ResolvedActor {
	if decl.Source != (domain.SourceRef{}) {
		resolved.Source = decl.Source
	}
	resolved.Config = manifest.MergeConfig(resolved.Config, decl.Config)
	if decl.HasAutoSpawn {
		resolved.AutoSpawn = decl.AutoSpawn
	}
	if len(decl.RequiredSpawnWith) > 0 {
		resolved.RequiredSpawnWith = decl.RequiredSpawnWith
	}
	return resolved
}

// resolveRelative resolves a dependency's local-path source against its
// parent's materialized directory; Git sources and already-absolute local
// paths pass through unchanged.
func resolveRelative(source domain.SourceRef, parentDir string) domain.SourceRef {
	if !source.IsLocal() || parentDir == "" || filepath.IsAbs(source.Path) {
		return source
	}
	return domain.SourceRef{Path: filepath.Join(parentDir, source.Path)}
}

func declsByName(decls []domain.ActorDecl) map[string]domain.ActorDecl {
	m := make(map[string]domain.ActorDecl, len(decls))
	for _, d := range decls {
		m[d.LogicalName] = d
	}
	return m
}

// --- error taxonomy (spec §7 "Configuration") ---

type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Path, " -> "))
}

type ConflictingSourcesError struct {
	LogicalName      string
	Source1, Source2 domain.SourceRef
}

func (e *ConflictingSourcesError) Error() string {
	return fmt.Sprintf("conflicting sources for %q: %s vs %s", e.LogicalName, e.Source1, e.Source2)
}

type ActorAndOverrideConflictError struct {
	LogicalName string
}

func (e *ActorAndOverrideConflictError) Error() string {
	return fmt.Sprintf("%q is declared in both actors and actor_overrides", e.LogicalName)
}

type OverrideForNonExistentDependencyError struct {
	LogicalName string
}

func (e *OverrideForNonExistentDependencyError) Error() string {
	return fmt.Sprintf("actor_overrides names %q, which is not a dependency of any resolved actor", e.LogicalName)
}
