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

// ActorDecl is a user-declared actor: a top-level [[actors]] or
// [[actor_overrides]] entry in the user configuration.
type ActorDecl struct {
	LogicalName        string
	Source             SourceRef
	Config             map[string]any
	AutoSpawn          bool
	RequiredSpawnWith  []string
	// HasAutoSpawn distinguishes "explicitly set to false" from "unset, use
	// the dependency's/default value" during override application.
	HasAutoSpawn bool
	// HasRequiredSpawnWith mirrors HasAutoSpawn for RequiredSpawnWith.
	HasRequiredSpawnWith bool
}

// ManifestDependency is one entry of an actor manifest's [dependencies.<name>]
// table.
type ManifestDependency struct {
	Source    SourceRef
	Config    map[string]any
	AutoSpawn bool
	HasAutoSpawn bool
}

// ActorManifest is declared by each actor's source directory (Wasmind.toml).
type ActorManifest struct {
	ActorID           string
	RequiredSpawnWith []string
	Dependencies      map[string]ManifestDependency
}

// ResolvedActor is the output of one resolution step: a logical name bound to
// exactly one source, with configuration overrides already folded in.
type ResolvedActor struct {
	LogicalName       string
	ActorID           string
	Source            SourceRef
	Config            map[string]any
	AutoSpawn         bool
	RequiredSpawnWith []string
	IsDependency      bool
}

// LoadedActor is a resolved actor after the build pipeline has produced (or
// fetched from cache) a runnable binary for it.
type LoadedActor struct {
	ID                string // == ActorID
	LogicalName       string
	Version           string
	BinaryPath        string
	Config            map[string]any
	AutoSpawn         bool
	RequiredSpawnWith []string
}
