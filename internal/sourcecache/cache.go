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

// Package sourcecache materializes actor sources (local directories or Git
// repositories) onto the local filesystem, memoized by source identity.
package sourcecache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// Cache materializes SourceRefs into local paths, deduplicating by content
// identity within one process.
type Cache struct {
	workspaceRoot string

	mu    sync.Mutex
	paths map[string]string // source hash -> checkout path
	errs  map[string]error
}

// New creates a Cache that clones Git sources under workspaceRoot.
func New(workspaceRoot string) *Cache {
	return &Cache{
		workspaceRoot: workspaceRoot,
		paths:         make(map[string]string),
		errs:          make(map[string]error),
	}
}

// Materialize returns a local filesystem path for source, cloning and
// checking it out if necessary. Repeated calls for equivalent SourceRefs
// return the same path without re-cloning.
func (c *Cache) Materialize(source domain.SourceRef) (string, error) {
	if source.IsLocal() {
		return source.Path, nil
	}

	key := source.Hash()

	c.mu.Lock()
	if p, ok := c.paths[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	if err, ok := c.errs[key]; ok {
		c.mu.Unlock()
		return "", err
	}
	c.mu.Unlock()

	path, err := c.clone(source, key)

	c.mu.Lock()
	if err != nil {
		c.errs[key] = err
	} else {
		c.paths[key] = path
	}
	c.mu.Unlock()

	return path, err
}

func (c *Cache) clone(source domain.SourceRef, key string) (string, error) {
	dest := filepath.Join(c.workspaceRoot, key)
	if _, err := os.Stat(dest); err == nil {
		return c.withSubDir(dest, source), nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("sourcecache: creating workspace: %w", err)
	}

	cloneOpts := &git.CloneOptions{URL: source.Repository}

	shallow := true
	if source.Ref != nil {
		switch source.Ref.Kind {
		case domain.RefBranch:
			cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(source.Ref.Value)
		case domain.RefTag:
			cloneOpts.ReferenceName = plumbing.NewTagReferenceName(source.Ref.Value)
		case domain.RefRevision:
			// A specific revision may not be reachable from a shallow clone
			// of the default branch, so clone the full history.
			shallow = false
		}
	}
	if shallow {
		cloneOpts.Depth = 1
	}

	repo, err := git.PlainClone(dest, false, cloneOpts)
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", &CloneError{Source: source, Err: err}
	}

	if source.Ref != nil && source.Ref.Kind == domain.RefRevision {
		wt, err := repo.Worktree()
		if err != nil {
			return "", &CloneError{Source: source, Err: err}
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(source.Ref.Value)}); err != nil {
			return "", &CheckoutError{Source: source, Err: err}
		}
	}

	return c.withSubDir(dest, source), nil
}

func (c *Cache) withSubDir(dest string, source domain.SourceRef) string {
	if source.SubDir == "" {
		return dest
	}
	return filepath.Join(dest, source.SubDir)
}

// CloneError wraps a failed git clone, carrying the offending source.
type CloneError struct {
	Source domain.SourceRef
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("sourcecache: cloning %s: %v", e.Source, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// CheckoutError wraps a failed git checkout, carrying the offending source.
type CheckoutError struct {
	Source domain.SourceRef
	Err    error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("sourcecache: checking out %s: %v", e.Source, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }
