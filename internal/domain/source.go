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

// Package domain holds the data model shared by every runtime component:
// source identity, actor declarations and manifests, scopes, envelopes,
// and the message variants the core dispatches on.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RefKind identifies which form of a Git ref a GitRef names.
type RefKind string

const (
	RefBranch   RefKind = "branch"
	RefTag      RefKind = "tag"
	RefRevision RefKind = "rev"
)

// GitRef names a specific point in a Git repository's history.
type GitRef struct {
	Kind  RefKind
	Value string
}

// SourceRef identifies where an actor's source lives. Exactly one of Path or
// Repository is set.
type SourceRef struct {
	// Path is set for a local directory source.
	Path string

	// Repository is set for a Git source.
	Repository string
	Ref        *GitRef // nil means the repository's default branch
	SubDir     string
}

// IsLocal reports whether this source is a local directory.
func (s SourceRef) IsLocal() bool {
	return s.Repository == ""
}

// Equal implements the match predicate of spec §4.2: local sources match by
// exact path; repository sources match by identical URL, identical optional
// ref (compared structurally), and identical optional sub-directory.
func (s SourceRef) Equal(o SourceRef) bool {
	if s.IsLocal() != o.IsLocal() {
		return false
	}
	if s.IsLocal() {
		return s.Path == o.Path
	}
	if s.Repository != o.Repository || s.SubDir != o.SubDir {
		return false
	}
	switch {
	case s.Ref == nil && o.Ref == nil:
		return true
	case s.Ref == nil || o.Ref == nil:
		return false
	default:
		return *s.Ref == *o.Ref
	}
}

// Hash returns the stable content-address used as a build-cache key. Two
// SourceRefs produce the same hash iff they are Equal.
func (s SourceRef) Hash() string {
	h := sha256.New()
	if s.IsLocal() {
		fmt.Fprintf(h, "local\n%s\n", s.Path)
	} else {
		refKind, refValue := "", ""
		if s.Ref != nil {
			refKind, refValue = string(s.Ref.Kind), s.Ref.Value
		}
		fmt.Fprintf(h, "git\n%s\n%s\n%s\n%s\n", s.Repository, refKind, refValue, s.SubDir)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s SourceRef) String() string {
	if s.IsLocal() {
		return s.Path
	}
	if s.Ref != nil {
		return fmt.Sprintf("%s@%s:%s (sub_dir=%s)", s.Repository, s.Ref.Kind, s.Ref.Value, s.SubDir)
	}
	return fmt.Sprintf("%s (sub_dir=%s)", s.Repository, s.SubDir)
}
