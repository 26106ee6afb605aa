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

package sourcecache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

func TestMaterializeLocalReturnsPathDirectly(t *testing.T) {
	c := New(t.TempDir())

	path, err := c.Materialize(domain.SourceRef{Path: "/some/actor/dir"})
	require.NoError(t, err)
	require.Equal(t, "/some/actor/dir", path)
}

func TestMaterializeMemoizesByHash(t *testing.T) {
	c := New(t.TempDir())

	source := domain.SourceRef{Repository: "https://example.invalid/repo.git"}
	key := source.Hash()

	c.mu.Lock()
	c.paths[key] = "/already/cloned"
	c.mu.Unlock()

	path, err := c.Materialize(source)
	require.NoError(t, err)
	require.Equal(t, "/already/cloned", path)
}

func TestMaterializeCachesErrors(t *testing.T) {
	c := New(t.TempDir())

	source := domain.SourceRef{Repository: "https://example.invalid/repo.git"}
	key := source.Hash()

	c.mu.Lock()
	c.errs[key] = &CloneError{Source: source}
	c.mu.Unlock()

	_, err := c.Materialize(source)
	require.Error(t, err)
}
