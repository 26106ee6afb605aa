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

// Package userconfig loads the root TOML configuration (spec §6 "User
// configuration"): the LLM endpoint and the top-level [[actors]] /
// [[actor_overrides]] declarations the Dependency Resolver consumes.
package userconfig

import (
	"fmt"
	"os"
	"regexp"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// LLM holds the settings a Lifecycle Supervisor hands to the Assistant and
// Conversation Compaction actors at startup.
type LLM struct {
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	TokenThreshold int    `koanf:"token_threshold"`
}

// Config is the decoded root configuration.
type Config struct {
	LLM            LLM    `koanf:"llm"`
	CacheRoot      string `koanf:"cache_root"`
	WorkspaceRoot  string `koanf:"workspace_root"`
	Actors         []domain.ActorDecl
	ActorOverrides []domain.ActorDecl
}

// rawActorDecl mirrors the wire grammar spec §6 gives for both Wasmind.toml
// dependencies and the root [[actors]]/[[actor_overrides]] lists: a
// path|git+ref sub-table shape, matching internal/manifest's sourceRefTOML
// convention so both loaders agree on one grammar.
type rawActorDecl struct {
	LogicalName       string         `koanf:"logical_name"`
	Source            rawSourceRef   `koanf:"source"`
	Config            map[string]any `koanf:"config"`
	AutoSpawn         *bool          `koanf:"auto_spawn"`
	RequiredSpawnWith []string       `koanf:"required_spawn_with"`
}

// rawGitRef is the nested `ref = { branch|tag|rev = "..." }` sub-table spec
// §6 specifies, matching internal/manifest's gitRefTOML.
type rawGitRef struct {
	Branch string `koanf:"branch"`
	Tag    string `koanf:"tag"`
	Rev    string `koanf:"rev"`
}

type rawSourceRef struct {
	Path   string    `koanf:"path"`
	Git    string    `koanf:"git"`
	Ref    rawGitRef `koanf:"ref"`
	SubDir string    `koanf:"sub_dir"`
}

func (s rawSourceRef) toDomain() (domain.SourceRef, error) {
	if s.Path != "" {
		return domain.SourceRef{Path: s.Path}, nil
	}
	if s.Git == "" {
		return domain.SourceRef{}, fmt.Errorf("userconfig: source must set either path or git")
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

func (r rawActorDecl) toDomain() (domain.ActorDecl, error) {
	source, err := r.Source.toDomain()
	if err != nil {
		return domain.ActorDecl{}, fmt.Errorf("actor %q: %w", r.LogicalName, err)
	}
	decl := domain.ActorDecl{
		LogicalName:       r.LogicalName,
		Source:            source,
		Config:            r.Config,
		RequiredSpawnWith: r.RequiredSpawnWith,
		HasRequiredSpawnWith: len(r.RequiredSpawnWith) > 0,
	}
	if r.AutoSpawn != nil {
		decl.AutoSpawn, decl.HasAutoSpawn = *r.AutoSpawn, true
	}
	return decl, nil
}

// rawConfig is the full-document decode target, before ActorDecl conversion.
type rawConfig struct {
	LLM            LLM             `koanf:"llm"`
	CacheRoot      string          `koanf:"cache_root"`
	WorkspaceRoot  string          `koanf:"workspace_root"`
	Actors         []rawActorDecl  `koanf:"actors"`
	ActorOverrides []rawActorDecl  `koanf:"actor_overrides"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// Load reads and decodes the root configuration at path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("userconfig: loading %s: %w", path, err)
	}

	expanded := confmap.Provider(expandEnvVars(k.Raw()), ".")
	if err := k.Load(expanded, nil); err != nil {
		return nil, fmt.Errorf("userconfig: expanding environment variables: %w", err)
	}

	var raw rawConfig
	if err := k.UnmarshalWithConf("", &raw, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &raw,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, fmt.Errorf("userconfig: decoding %s: %w", path, err)
	}

	cfg := &Config{LLM: raw.LLM, CacheRoot: raw.CacheRoot, WorkspaceRoot: raw.WorkspaceRoot}
	for _, a := range raw.Actors {
		decl, err := a.toDomain()
		if err != nil {
			return nil, fmt.Errorf("userconfig: %s: %w", path, err)
		}
		cfg.Actors = append(cfg.Actors, decl)
	}
	for _, a := range raw.ActorOverrides {
		decl, err := a.toDomain()
		if err != nil {
			return nil, fmt.Errorf("userconfig: %s: %w", path, err)
		}
		cfg.ActorOverrides = append(cfg.ActorOverrides, decl)
	}
	return cfg, nil
}

// expandEnvVars walks a koanf raw document replacing ${VAR} occurrences in
// string leaves with the environment's value, recursing into nested maps
// and slices (TOML tables and arrays-of-tables).
func expandEnvVars(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = expandValue(v)
	}
	return out
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return envVarPattern.ReplaceAllStringFunc(val, func(match string) string {
			name := envVarPattern.FindStringSubmatch(match)[1]
			if expanded, ok := os.LookupEnv(name); ok {
				return expanded
			}
			return match
		})
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}
