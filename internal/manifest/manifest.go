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

// Package manifest parses Wasmind.toml actor manifests and implements the
// recursive table-merge used to fold configuration overrides together.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// FileName is the manifest file every actor source directory must contain.
const FileName = "Wasmind.toml"

// gitRefTOML is the nested `ref = { branch|tag|rev = "..." }` sub-table
// spec §6 specifies for a Git source: `source = { git = "...", ref = {
// branch|tag|rev = "..." }, sub_dir = "..." }`.
type gitRefTOML struct {
	Branch string `toml:"branch"`
	Tag    string `toml:"tag"`
	Rev    string `toml:"rev"`
}

type sourceRefTOML struct {
	Path   string     `toml:"path"`
	Git    string     `toml:"git"`
	Ref    gitRefTOML `toml:"ref"`
	SubDir string     `toml:"sub_dir"`
}

func (s sourceRefTOML) toDomain() (domain.SourceRef, error) {
	if s.Path != "" {
		return domain.SourceRef{Path: s.Path}, nil
	}
	if s.Git == "" {
		return domain.SourceRef{}, fmt.Errorf("manifest: source must set either path or git")
	}
	ref := &domain.GitRef{}
	switch {
	case s.Ref.Branch != "":
		ref.Kind, ref.Value = domain.RefBranch, s.Ref.Branch
	case s.Ref.Tag != "":
		ref.Kind, ref.Value = domain.RefTag, s.Ref.Tag
	case s.Ref.Rev != "":
		ref.Kind, ref.Value = domain.RefRevision, s.Ref.Rev
	default:
		ref = nil
	}
	return domain.SourceRef{Repository: s.Git, Ref: ref, SubDir: s.SubDir}, nil
}

type dependencyTOML struct {
	Source       sourceRefTOML  `toml:"source"`
	AutoSpawn    *bool          `toml:"auto_spawn"`
	Config       map[string]any `toml:"config"`
}

type fileTOML struct {
	ActorID           string                     `toml:"actor_id"`
	RequiredSpawnWith []string                   `toml:"required_spawn_with"`
	Dependencies      map[string]dependencyTOML  `toml:"dependencies"`
}

// Load reads and parses a Wasmind.toml from dir (or dir/sub_dir, already
// folded into dir by the caller).
func Load(dir string) (*domain.ActorManifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingManifestError{Path: path}
		}
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	var raw fileTOML
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if raw.ActorID == "" {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("missing required field actor_id")}
	}

	deps := make(map[string]domain.ManifestDependency, len(raw.Dependencies))
	for name, d := range raw.Dependencies {
		src, err := d.Source.toDomain()
		if err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("dependency %q: %w", name, err)}
		}
		md := domain.ManifestDependency{Source: src, Config: d.Config}
		if d.AutoSpawn != nil {
			md.AutoSpawn, md.HasAutoSpawn = *d.AutoSpawn, true
		}
		deps[name] = md
	}

	return &domain.ActorManifest{
		ActorID:           raw.ActorID,
		RequiredSpawnWith: raw.RequiredSpawnWith,
		Dependencies:      deps,
	}, nil
}

// MissingManifestError reports a source directory without a Wasmind.toml.
type MissingManifestError struct {
	Path string
}

func (e *MissingManifestError) Error() string {
	return fmt.Sprintf("manifest: %s not found", e.Path)
}

// LoadError reports a structurally invalid manifest.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("manifest: %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// MergeConfig recursively merges override into base: scalars (and any
// non-table value) are replaced wholesale by override's value; nested tables
// merge key-wise, with override's keys shadowing base's at the same depth.
// base and override are never mutated; the result is a new map.
func MergeConfig(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, overrideVal := range override {
		baseVal, exists := result[k]
		if !exists {
			result[k] = overrideVal
			continue
		}
		baseTable, baseIsTable := baseVal.(map[string]any)
		overrideTable, overrideIsTable := overrideVal.(map[string]any)
		if baseIsTable && overrideIsTable {
			result[k] = MergeConfig(baseTable, overrideTable)
		} else {
			result[k] = overrideVal
		}
	}
	return result
}
