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

package fileengine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRejectsRelativePath(t *testing.T) {
	e := New()
	_, err := e.Read("relative/path.txt", 0, 0)
	var relErr *RelativePathError
	require.ErrorAs(t, err, &relErr)
}

func TestReadFullRendersNumberedLines(t *testing.T) {
	path := writeTemp(t, "line 1\nline 2\nline 3")
	e := New()
	out, err := e.Read(path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "1:line 1\n2:line 2\n3:line 3", out)
}

func TestReadTooLargeWithoutRangeFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", SmallFileThreshold+1)), 0o644))

	e := New()
	_, err := e.Read(path, 0, 0)
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, path, tooLarge.Path)
}

func TestReadPartialMergesAdjacentSlices(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10")
	e := New()

	_, err := e.Read(path, 1, 3)
	require.NoError(t, err)
	out, err := e.Read(path, 3, 6)
	require.NoError(t, err)
	require.Equal(t, "1:l1\n2:l2\n3:l3\n4:l4\n5:l5\n6:l6\n[... 4 lines omitted ...]", out)
}

func TestReadPartialRendersGapForNonAdjacentSlices(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10")
	e := New()

	out, err := e.Read(path, 1, 2)
	require.NoError(t, err)
	require.Contains(t, out, "1:l1\n2:l2")

	out, err = e.Read(path, 5, 6)
	require.NoError(t, err)
	require.Equal(t, "1:l1\n2:l2\n[... 2 lines omitted ...]\n5:l5\n6:l6\n[... 4 lines omitted ...]", out)
}

func TestEditCreatesNewFileWithSingleEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "new.txt")
	e := New()

	out, err := e.Edit(path, []Edit{{StartLine: 1, EndLine: 0, NewContent: "hello\nworld"}})
	require.NoError(t, err)
	require.Equal(t, "hello\nworld\n", out)

	disk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, out, string(disk))
}

func TestEditNewFileRejectsMultipleEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")
	e := New()

	_, err := e.Edit(path, []Edit{
		{StartLine: 1, EndLine: 0, NewContent: "a"},
		{StartLine: 2, EndLine: 2, NewContent: "b"},
	})
	var multiErr *MultipleEditsOnEmptyFileError
	require.ErrorAs(t, err, &multiErr)
}

func TestEditExistingFileRequiresPriorRead(t *testing.T) {
	path := writeTemp(t, "a\nb\nc")
	e := New()

	_, err := e.Edit(path, []Edit{{StartLine: 1, EndLine: 1, NewContent: "z"}})
	var notCached *PathNotCachedError
	require.ErrorAs(t, err, &notCached)
}

func TestEditDetectsExternalModificationSinceRead(t *testing.T) {
	path := writeTemp(t, "a\nb\nc")
	e := New()
	_, err := e.Read(path, 0, 0)
	require.NoError(t, err)

	// Simulate an external modification with a distinct mtime.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644))

	_, err = e.Edit(path, []Edit{{StartLine: 1, EndLine: 1, NewContent: "z"}})
	var modified *FileModifiedExternallyError
	require.ErrorAs(t, err, &modified)
}

func TestEditReplacesRangeAndReReadsAsFull(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3\nl4\nl5")
	e := New()
	_, err := e.Read(path, 0, 0)
	require.NoError(t, err)

	out, err := e.Edit(path, []Edit{{StartLine: 3, EndLine: 3, NewContent: "modified"}})
	require.NoError(t, err)
	require.Equal(t, "l1\nl2\nmodified\nl4\nl5\n", out)

	rendered, err := e.Read(path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "1:l1\n2:l2\n3:modified\n4:l4\n5:l5", rendered)
}

func TestEditInsertsLinesWithEndLessThanStart(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3")
	e := New()
	_, err := e.Read(path, 0, 0)
	require.NoError(t, err)

	out, err := e.Edit(path, []Edit{{StartLine: 3, EndLine: 2, NewContent: "ins-a\nins-b"}})
	require.NoError(t, err)
	require.Equal(t, "l1\nl2\nins-a\nins-b\nl3\n", out)
}

func TestEditDeletesRangeWithEmptyContent(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3\nl4\nl5")
	e := New()
	_, err := e.Read(path, 0, 0)
	require.NoError(t, err)

	out, err := e.Edit(path, []Edit{{StartLine: 2, EndLine: 4, NewContent: ""}})
	require.NoError(t, err)
	require.Equal(t, "l1\nl5\n", out)
}

func TestEditMultipleOperationsAppliedInDescendingOrder(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3\nl4\nl5")
	e := New()
	_, err := e.Read(path, 0, 0)
	require.NoError(t, err)

	out, err := e.Edit(path, []Edit{
		{StartLine: 2, EndLine: 2, NewContent: "m2"},
		{StartLine: 4, EndLine: 4, NewContent: "m4"},
		{StartLine: 6, EndLine: 5, NewContent: "new6"},
	})
	require.NoError(t, err)
	require.Equal(t, "l1\nm2\nl3\nm4\nl5\nnew6\n", out)
}

func TestPreviewDoesNotMutateDiskOrCache(t *testing.T) {
	path := writeTemp(t, "l1\nl2\nl3")
	e := New()
	_, err := e.Read(path, 0, 0)
	require.NoError(t, err)

	diff, err := e.Preview(path, []Edit{{StartLine: 2, EndLine: 2, NewContent: "changed"}})
	require.NoError(t, err)
	require.Contains(t, diff, "-l2")
	require.Contains(t, diff, "+changed")

	disk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "l1\nl2\nl3", string(disk))
}
