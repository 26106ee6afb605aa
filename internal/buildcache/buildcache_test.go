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

package buildcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// newBuilderWithFakeBuild returns a Builder whose BuildCommand writes a tiny script
// that exits 0 (standing in for a real actor handshake, which
// actorproto.ValidateBinary would otherwise require). Tests that exercise
// Build's caching behavior stub validation out entirely by never letting
// the binary actually run as a plugin: they only assert on cache-hit vs.
// cache-miss call counts.
func newBuilderWithFakeBuild(t *testing.T, calls *int) *Builder {
	t.Helper()
	b := New(t.TempDir())
	b.BuildCommand = func(sourceDir, logicalName string) (string, error) {
		*calls++
		out := filepath.Join(sourceDir, logicalName+".bin")
		require.NoError(t, os.WriteFile(out, []byte("#!/bin/sh\nexit 0\n"), 0o755))
		return out, nil
	}
	return b
}

func TestBuildCachesAcrossCalls(t *testing.T) {
	var calls int
	b := newBuilderWithFakeBuild(t, &calls)
	b.VersionOf = func(string) (string, error) { return "1.2.3", nil }

	sourceDir := t.TempDir()
	resolved := domain.ResolvedActor{
		LogicalName: "greeter",
		ActorID:     "greeter-id",
		Source:      domain.SourceRef{Path: sourceDir},
	}

	origValidate := validateBinary
	defer func() { validateBinary = origValidate }()
	validateBinary = func(string) error { return nil }

	first, err := b.Build(resolved, sourceDir)
	require.NoError(t, err)
	require.Equal(t, "1.2.3", first.Version)
	require.Equal(t, 1, calls)

	second, err := b.Build(resolved, sourceDir)
	require.NoError(t, err)
	require.Equal(t, first.Version, second.Version)
	require.Equal(t, 1, calls, "second Build should hit the cache and not rebuild")
}

func TestBuildDevModeAlwaysRebuilds(t *testing.T) {
	t.Setenv(DevModeEnv, "1")
	origValidate := validateBinary
	defer func() { validateBinary = origValidate }()
	validateBinary = func(string) error { return nil }

	var calls int
	b := New(t.TempDir())
	_, devMode := os.LookupEnv(DevModeEnv)
	require.True(t, devMode)
	b.BuildCommand = func(sourceDir, logicalName string) (string, error) {
		calls++
		out := filepath.Join(sourceDir, logicalName+".bin")
		require.NoError(t, os.WriteFile(out, nil, 0o755))
		return out, nil
	}

	sourceDir := t.TempDir()
	resolved := domain.ResolvedActor{LogicalName: "greeter", ActorID: "greeter-id", Source: domain.SourceRef{Path: sourceDir}}

	_, err := b.Build(resolved, sourceDir)
	require.NoError(t, err)
	_, err = b.Build(resolved, sourceDir)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "DEV_MODE should bypass the cache on every call")
}

func TestBuildPropagatesBuildCommandError(t *testing.T) {
	b := New(t.TempDir())
	wantErr := &BuildError{LogicalName: "broken", Output: "compile error", Err: os.ErrInvalid}
	b.BuildCommand = func(string, string) (string, error) { return "", wantErr }

	sourceDir := t.TempDir()
	resolved := domain.ResolvedActor{LogicalName: "broken", ActorID: "broken-id", Source: domain.SourceRef{Path: sourceDir}}

	_, err := b.Build(resolved, sourceDir)
	require.ErrorIs(t, err, wantErr)
}

func TestBuildErrorMessageIncludesOutput(t *testing.T) {
	err := &BuildError{LogicalName: "greeter", Output: "undefined: foo", Err: os.ErrInvalid}
	require.Contains(t, err.Error(), "greeter")
	require.Contains(t, err.Error(), "undefined: foo")
}
