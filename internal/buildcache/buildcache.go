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

// Package buildcache builds a resolved actor's source directory into a
// runnable actor binary, validates it, and caches the result by source
// identity (spec §4.3).
//
// Actors are realized as hashicorp/go-plugin subprocesses rather than
// WebAssembly Components (see SPEC_FULL.md's actor-boundary redesign note);
// "the artifact is a component, not a bare module" becomes "the binary
// completes the go-plugin handshake" and is checked by Builder.Build via
// internal/actorproto.Handshake rather than by inspecting magic bytes.
package buildcache

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/SilasMarvin/wasmind-sub001/internal/actorproto"
	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/manifest"
)

// DevModeEnv, when present in the environment (even with an empty value),
// bypasses cache reads and writes (spec §6 "Environment variables").
const DevModeEnv = "DEV_MODE"

// Metadata is the cache's per-actor metadata.json.
type Metadata struct {
	ActorID     string    `json:"actor_id"`
	LogicalName string    `json:"logical_name"`
	Version     string    `json:"version"`
	SourceHash  string    `json:"source_hash"`
	CachedAt    time.Time `json:"cached_at"`
}

// Builder builds resolved actors into cached, runnable binaries.
type Builder struct {
	cacheRoot string
	devMode   bool

	// BuildCommand builds the source directory into an executable at the
	// returned path. The default runs `go build` targeting the host
	// GOOS/GOARCH; tests inject a fake.
	BuildCommand func(sourceDir, logicalName string) (binaryPath string, err error)

	// VersionOf reads the package version out of a source directory's
	// package manifest (e.g. a go.mod replace-free module, or a
	// Cargo.toml-equivalent). Defaults to "0.0.0" if unset.
	VersionOf func(sourceDir string) (string, error)
}

// New creates a Builder caching under cacheRoot/actors/<source_hash>/.
func New(cacheRoot string) *Builder {
	_, devMode := os.LookupEnv(DevModeEnv)
	return &Builder{
		cacheRoot:    cacheRoot,
		devMode:      devMode,
		BuildCommand: defaultBuildCommand,
	}
}

func defaultBuildCommand(sourceDir, logicalName string) (string, error) {
	out := filepath.Join(sourceDir, "."+logicalName+".actor-bin")
	cmd := exec.Command("go", "build", "-o", out, ".")
	cmd.Dir = sourceDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", &BuildError{LogicalName: logicalName, Output: string(output), Err: err}
	}
	return out, nil
}

func (b *Builder) actorDir(sourceHash string) string {
	return filepath.Join(b.cacheRoot, "actors", sourceHash)
}

// validateBinary is actorproto.ValidateBinary by default; tests override it
// so a fake BuildCommand's stand-in binary doesn't need to complete a real
// go-plugin handshake.
var validateBinary = actorproto.ValidateBinary

// Build produces a LoadedActor for resolved, using the cache when possible.
// sourceDir is the already-materialized (Source Cache'd) directory for
// resolved.Source.
func (b *Builder) Build(resolved domain.ResolvedActor, sourceDir string) (*domain.LoadedActor, error) {
	sourceHash := resolved.Source.Hash()

	if !b.devMode {
		if loaded, ok, err := b.loadFromCache(resolved, sourceHash); err != nil {
			return nil, err
		} else if ok {
			return loaded, nil
		}
	}

	binaryPath, err := b.BuildCommand(sourceDir, resolved.LogicalName)
	if err != nil {
		return nil, err
	}

	if err := validateBinary(binaryPath); err != nil {
		return nil, err
	}

	version := "0.0.0"
	if b.VersionOf != nil {
		if v, err := b.VersionOf(sourceDir); err == nil && v != "" {
			version = v
		}
	}

	if !b.devMode {
		if err := b.store(resolved, sourceDir, binaryPath, sourceHash, version); err != nil {
			return nil, fmt.Errorf("buildcache: caching %s: %w", resolved.LogicalName, err)
		}
	}

	return &domain.LoadedActor{
		ID:                resolved.ActorID,
		LogicalName:       resolved.LogicalName,
		Version:           version,
		BinaryPath:        binaryPath,
		Config:            resolved.Config,
		AutoSpawn:         resolved.AutoSpawn,
		RequiredSpawnWith: resolved.RequiredSpawnWith,
	}, nil
}

func (b *Builder) loadFromCache(resolved domain.ResolvedActor, sourceHash string) (*domain.LoadedActor, bool, error) {
	dir := b.actorDir(sourceHash)
	metaPath := filepath.Join(dir, "metadata.json")

	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("buildcache: reading metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false, fmt.Errorf("buildcache: parsing metadata: %w", err)
	}

	binPath := filepath.Join(dir, "actor.bin")
	if _, err := os.Stat(binPath); err != nil {
		return nil, false, nil
	}

	return &domain.LoadedActor{
		ID:                meta.ActorID,
		LogicalName:       meta.LogicalName,
		Version:           meta.Version,
		BinaryPath:        binPath,
		Config:            resolved.Config,
		AutoSpawn:         resolved.AutoSpawn,
		RequiredSpawnWith: resolved.RequiredSpawnWith,
	}, true, nil
}

func (b *Builder) store(resolved domain.ResolvedActor, sourceDir, binaryPath, sourceHash, version string) error {
	dir := b.actorDir(sourceHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	src, err := os.ReadFile(binaryPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "actor.bin"), src, 0o755); err != nil {
		return err
	}

	if manifestBytes, err := os.ReadFile(filepath.Join(sourceDir, manifest.FileName)); err == nil {
		_ = os.WriteFile(filepath.Join(dir, manifest.FileName), manifestBytes, 0o644)
	}

	meta := Metadata{
		ActorID:     resolved.ActorID,
		LogicalName: resolved.LogicalName,
		Version:     version,
		SourceHash:  sourceHash,
		CachedAt:    time.Now().UTC(),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0o644)
}

// BuildError wraps a failed build invocation.
type BuildError struct {
	LogicalName string
	Output      string
	Err         error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("buildcache: building %q: %v\n%s", e.LogicalName, e.Err, e.Output)
}

func (e *BuildError) Unwrap() error { return e.Err }
