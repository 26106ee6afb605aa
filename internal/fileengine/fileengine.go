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

// Package fileengine implements the File-Interaction Cache Engine (spec
// §4.9): cached reads of full or sparse line ranges with staleness
// detection, atomic multi-edit application, and unified-diff previewing.
package fileengine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// SmallFileThreshold is the size, in bytes, below which an implicit
// (rangeless) read is served in full.
const SmallFileThreshold = 64 * 1024

// MaxFileSize caps how large a file this engine will ever read.
const MaxFileSize = 10 * 1024 * 1024

// Edit targets an inclusive line range with replacement content.
// end_line == start_line-1 means insert before start_line; an empty
// NewContent with end_line >= start_line deletes that range.
type Edit struct {
	StartLine  int
	EndLine    int
	NewContent string
}

type slice struct {
	startLine int
	endLine   int
	lines     []string
}

type content struct {
	full       *string // non-nil for a Full entry
	slices     []slice // non-nil for a Partial entry
	totalLines int
}

func (c *content) render() string {
	if c.full != nil {
		lines := splitLines(*c.full)
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = fmt.Sprintf("%d:%s", i+1, l)
		}
		return strings.Join(out, "\n")
	}

	var out []string
	lastEnd := 0
	for _, s := range c.slices {
		if lastEnd > 0 && s.startLine > lastEnd+1 {
			out = append(out, fmt.Sprintf("[... %d lines omitted ...]", s.startLine-lastEnd-1))
		} else if lastEnd == 0 && s.startLine > 1 {
			out = append(out, fmt.Sprintf("[... %d lines omitted ...]", s.startLine-1))
		}
		for i, l := range s.lines {
			out = append(out, fmt.Sprintf("%d:%s", s.startLine+i, l))
		}
		lastEnd = s.endLine
	}
	if lastEnd < c.totalLines {
		out = append(out, fmt.Sprintf("[... %d lines omitted ...]", c.totalLines-lastEnd))
	}
	return strings.Join(out, "\n")
}

func (c *content) coversRange(start, end int) bool {
	if c.full != nil {
		return true
	}
	for _, s := range c.slices {
		if s.startLine <= start && s.endLine >= end {
			return true
		}
	}
	return false
}

func (c *content) mergeSlice(ns slice) {
	c.slices = append(c.slices, ns)
	sort.Slice(c.slices, func(i, j int) bool { return c.slices[i].startLine < c.slices[j].startLine })

	merged := c.slices[:0:0]
	for _, s := range c.slices {
		if len(merged) == 0 {
			merged = append(merged, s)
			continue
		}
		last := &merged[len(merged)-1]
		if s.startLine <= last.endLine+1 {
			if s.endLine > last.endLine {
				overlap := 0
				if last.endLine >= s.startLine {
					overlap = last.endLine - s.startLine + 1
				}
				if overlap < len(s.lines) {
					last.lines = append(last.lines, s.lines[overlap:]...)
				}
				last.endLine = s.endLine
			}
		} else {
			merged = append(merged, s)
		}
	}
	c.slices = merged
}

type cacheEntry struct {
	content content
	mtime   time.Time
}

// TooLargeError reports an implicit read against a file over
// SmallFileThreshold, carrying the metadata the caller needs to retry with
// an explicit range.
type TooLargeError struct {
	Path       string
	SizeBytes  int64
	TotalLines int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file too large for implicit read: %s (%d bytes, %d lines); specify a line range", e.Path, e.SizeBytes, e.TotalLines)
}

// RelativePathError reports a non-absolute path, which this engine never
// accepts (spec §4.9).
type RelativePathError struct{ Path string }

func (e *RelativePathError) Error() string {
	return fmt.Sprintf("relative path not supported, use an absolute path: %s", e.Path)
}

// PathNotCachedError reports an edit against a file that was never read.
type PathNotCachedError struct{ Path string }

func (e *PathNotCachedError) Error() string {
	return fmt.Sprintf("%s must be read before it can be edited", e.Path)
}

// FileModifiedExternallyError reports an edit against a file whose on-disk
// mtime no longer matches the cached mtime_at_read.
type FileModifiedExternallyError struct{ Path string }

func (e *FileModifiedExternallyError) Error() string {
	return fmt.Sprintf("%s has been modified since last read", e.Path)
}

// InvalidLineRangeError reports a malformed or out-of-bounds line range.
type InvalidLineRangeError struct{ Message string }

func (e *InvalidLineRangeError) Error() string { return e.Message }

// MultipleEditsOnEmptyFileError reports more than one edit targeting a
// brand-new or empty file.
type MultipleEditsOnEmptyFileError struct{ Count int }

func (e *MultipleEditsOnEmptyFileError) Error() string {
	return fmt.Sprintf("only a single edit is allowed on a new or empty file, got %d", e.Count)
}

// Engine caches file contents per canonical path.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{cache: make(map[string]*cacheEntry)}
}

// Clear drops every cache entry (actor teardown, spec §3's file-cache-entry
// lifecycle).
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*cacheEntry)
}

// Read renders the file at path, optionally restricted to [start, end]
// (both 1-indexed, inclusive). Passing start == 0 && end == 0 requests an
// implicit full read.
func (e *Engine) Read(path string, start, end int) (string, error) {
	if !filepath.IsAbs(path) {
		return "", &RelativePathError{Path: path}
	}
	canonical := filepath.Clean(path)

	e.mu.Lock()
	defer e.mu.Unlock()

	if start != 0 || end != 0 {
		if start < 1 {
			return "", &InvalidLineRangeError{Message: fmt.Sprintf("invalid start_line %d: lines are 1-indexed", start)}
		}
		if end < start {
			return "", &InvalidLineRangeError{Message: fmt.Sprintf("end_line %d must be >= start_line %d", end, start)}
		}
	}

	info, statErr := os.Stat(canonical)
	if statErr != nil {
		return "", fmt.Errorf("stat %s: %w", canonical, statErr)
	}
	mtime := info.ModTime()

	entry, cached := e.cache[canonical]
	stale := !cached || !entry.mtime.Equal(mtime)

	needsRead := stale
	if !stale && start != 0 {
		needsRead = !entry.content.coversRange(start, end)
	}

	if needsRead {
		if err := e.readAndCache(canonical, info, start, end); err != nil {
			return "", err
		}
		entry = e.cache[canonical]
	}

	return entry.content.render(), nil
}

func (e *Engine) readAndCache(canonical string, info os.FileInfo, start, end int) error {
	if start != 0 {
		if existing, ok := e.cache[canonical]; ok && existing.mtime.Equal(info.ModTime()) && existing.content.full == nil {
			if existing.content.coversRange(start, end) {
				return nil
			}
		}
	}

	if info.Size() > MaxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		return fmt.Errorf("read %s: %w", canonical, err)
	}
	lines := splitLines(string(data))
	totalLines := len(lines)

	if start == 0 && end == 0 {
		if info.Size() > SmallFileThreshold {
			return &TooLargeError{Path: canonical, SizeBytes: info.Size(), TotalLines: totalLines}
		}
		full := string(data)
		e.cache[canonical] = &cacheEntry{content: content{full: &full}, mtime: info.ModTime()}
		return nil
	}

	if start > totalLines {
		return &InvalidLineRangeError{Message: fmt.Sprintf("invalid line range: %d-%d (file has %d lines)", start, end, totalLines)}
	}
	clampedEnd := end
	if clampedEnd > totalLines {
		clampedEnd = totalLines
	}
	sliceLines := append([]string(nil), lines[start-1:clampedEnd]...)
	newSlice := slice{startLine: start, endLine: clampedEnd, lines: sliceLines}

	if existing, ok := e.cache[canonical]; ok && existing.mtime.Equal(info.ModTime()) && existing.content.full == nil {
		existing.content.mergeSlice(newSlice)
		return nil
	}

	e.cache[canonical] = &cacheEntry{
		content: content{slices: []slice{newSlice}, totalLines: totalLines},
		mtime:   info.ModTime(),
	}
	return nil
}

// Edit applies edits to path, in descending start-line order, and persists
// the result atomically (write then re-cache as Full at the new mtime).
func (e *Engine) Edit(path string, edits []Edit) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyEdits(path, edits, true)
}

// Preview runs the same validation and edit algorithm as Edit but returns a
// unified diff without touching disk or cache.
func (e *Engine) Preview(path string, edits []Edit) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldContent, _, err := e.loadForEdit(path, edits)
	if err != nil {
		return "", err
	}
	newContent, err := applyEditsToContent(oldContent, edits)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: path,
		ToFile:   path + " (modified)",
		Context:  10,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// loadForEdit validates path/edits the way Edit does and returns the
// current on-disk content (empty string for a not-yet-created file) without
// mutating the cache.
func (e *Engine) loadForEdit(path string, edits []Edit) (string, string, error) {
	if !filepath.IsAbs(path) {
		return "", "", &RelativePathError{Path: path}
	}
	canonical := filepath.Clean(path)

	info, statErr := os.Stat(canonical)
	isNew := statErr != nil
	isSingleCreate := len(edits) == 1 && edits[0].StartLine == 1 && edits[0].EndLine == 0

	if !isNew {
		entry, ok := e.cache[canonical]
		if !ok {
			return "", "", &PathNotCachedError{Path: canonical}
		}
		if !entry.mtime.Equal(info.ModTime()) {
			return "", "", &FileModifiedExternallyError{Path: canonical}
		}
		data, err := os.ReadFile(canonical)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", canonical, err)
		}
		return string(data), canonical, nil
	}
	if !isSingleCreate {
		return "", "", &MultipleEditsOnEmptyFileError{Count: len(edits)}
	}
	return "", canonical, nil
}

func (e *Engine) applyEdits(path string, edits []Edit, persist bool) (string, error) {
	oldContent, canonical, err := e.loadForEdit(path, edits)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Stat(canonical); statErr != nil {
		if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
			return "", fmt.Errorf("create parent directories: %w", err)
		}
	}

	newContent, err := applyEditsToContent(oldContent, edits)
	if err != nil {
		return "", err
	}

	if persist {
		if err := os.WriteFile(canonical, []byte(newContent), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", canonical, err)
		}
		info, err := os.Stat(canonical)
		if err != nil {
			return "", fmt.Errorf("stat %s after write: %w", canonical, err)
		}
		e.cache[canonical] = &cacheEntry{content: content{full: &newContent}, mtime: info.ModTime()}
	}

	return newContent, nil
}

func applyEditsToContent(oldContent string, edits []Edit) (string, error) {
	lines := splitLines(oldContent)
	if len(lines) == 0 && len(edits) > 1 {
		return "", &MultipleEditsOnEmptyFileError{Count: len(edits)}
	}

	sorted := append([]Edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartLine > sorted[j].StartLine })

	for _, ed := range sorted {
		total := len(lines)
		if ed.StartLine < 1 {
			return "", &InvalidLineRangeError{Message: fmt.Sprintf("start_line must be at least 1 (got %d)", ed.StartLine)}
		}
		if ed.StartLine > total+1 {
			return "", &InvalidLineRangeError{Message: fmt.Sprintf("start_line cannot exceed %d for a file with %d lines (got %d)", total+1, total, ed.StartLine)}
		}

		if ed.EndLine == ed.StartLine-1 {
			newLines := splitLines(ed.NewContent)
			insertPos := ed.StartLine - 1
			lines = append(lines[:insertPos], append(append([]string(nil), newLines...), lines[insertPos:]...)...)
			continue
		}

		if ed.EndLine < ed.StartLine {
			return "", &InvalidLineRangeError{Message: fmt.Sprintf("end_line (%d) must be >= start_line (%d)", ed.EndLine, ed.StartLine)}
		}
		if ed.EndLine > total {
			return "", &InvalidLineRangeError{Message: fmt.Sprintf("end_line cannot exceed %d for a file with %d lines (got %d)", total, total, ed.EndLine)}
		}

		lines = append(lines[:ed.StartLine-1], lines[ed.EndLine:]...)
		if ed.NewContent != "" {
			newLines := splitLines(ed.NewContent)
			insertPos := ed.StartLine - 1
			lines = append(lines[:insertPos], append(append([]string(nil), newLines...), lines[insertPos:]...)...)
		}
	}

	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
