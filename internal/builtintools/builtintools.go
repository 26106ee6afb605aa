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

// Package builtintools wires the File-Interaction Cache Engine (spec §4.9)
// into the Tool Adapter contract (spec §4.8) as the core, always-present
// read_file/edit_file/preview_edit tools every scope's native Assistant can
// call without depending on an external actor binary.
package builtintools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/fileengine"
	"github.com/SilasMarvin/wasmind-sub001/internal/tooladapter"
	"github.com/SilasMarvin/wasmind-sub001/internal/toolschema"
)

type readFileArgs struct {
	Path  string `json:"path" jsonschema:"required,description=Path to the file to read."`
	Start int    `json:"start,omitempty" jsonschema:"description=First line to read (1-based). Omit to read the whole file."`
	End   int    `json:"end,omitempty" jsonschema:"description=Last line to read (inclusive). Omit to read the whole file."`
}

type editArgs struct {
	StartLine  int    `json:"start_line" jsonschema:"required,description=First line of the range to replace (1-based)."`
	EndLine    int    `json:"end_line" jsonschema:"required,description=Last line of the range to replace; start_line-1 inserts before start_line."`
	NewContent string `json:"new_content" jsonschema:"description=Replacement text; empty deletes the range."`
}

type editFileArgs struct {
	Path  string     `json:"path" jsonschema:"required,description=Path to the file to edit."`
	Edits []editArgs `json:"edits" jsonschema:"required,description=Ordered list of line-range edits to apply atomically."`
}

// Tools builds the fixed set of file-engine-backed tools for one scope's
// engine instance. Each scope owns its own *fileengine.Engine (spec §4.9
// "owned by a single File-Interaction actor instance per scope").
func Tools(engine *fileengine.Engine) ([]tooladapter.Tool, error) {
	readSchema, err := toolschema.Generate[readFileArgs]()
	if err != nil {
		return nil, fmt.Errorf("builtintools: read_file schema: %w", err)
	}
	editSchema, err := toolschema.Generate[editFileArgs]()
	if err != nil {
		return nil, fmt.Errorf("builtintools: edit_file schema: %w", err)
	}
	previewSchema, err := toolschema.Generate[editFileArgs]()
	if err != nil {
		return nil, fmt.Errorf("builtintools: preview_edit schema: %w", err)
	}

	return []tooladapter.Tool{
		{
			Name:        "read_file",
			Description: "Read a file, optionally restricted to a line range.",
			Parameters:  readSchema,
			Handler:     readFileHandler(engine),
		},
		{
			Name:        "edit_file",
			Description: "Apply one or more line-range edits to a file atomically.",
			Parameters:  editSchema,
			Handler:     editFileHandler(engine),
		},
		{
			Name:        "preview_edit",
			Description: "Render a unified diff of the edits without writing them.",
			Parameters:  previewSchema,
			Handler:     previewEditHandler(engine),
		},
	}, nil
}

func readFileHandler(engine *fileengine.Engine) tooladapter.Handler {
	return func(_ context.Context, args json.RawMessage) (string, domain.UIDisplayInfo, error) {
		var a readFileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", domain.UIDisplayInfo{}, err
		}
		content, err := engine.Read(a.Path, a.Start, a.End)
		if err != nil {
			return "", domain.UIDisplayInfo{}, err
		}
		return content, domain.UIDisplayInfo{
			Collapsed: fmt.Sprintf("Read %s", a.Path),
			Expanded:  content,
		}, nil
	}
}

func toFileEngineEdits(edits []editArgs) []fileengine.Edit {
	out := make([]fileengine.Edit, len(edits))
	for i, e := range edits {
		out[i] = fileengine.Edit{StartLine: e.StartLine, EndLine: e.EndLine, NewContent: e.NewContent}
	}
	return out
}

func editFileHandler(engine *fileengine.Engine) tooladapter.Handler {
	return func(_ context.Context, args json.RawMessage) (string, domain.UIDisplayInfo, error) {
		var a editFileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", domain.UIDisplayInfo{}, err
		}
		diff, err := engine.Edit(a.Path, toFileEngineEdits(a.Edits))
		if err != nil {
			return "", domain.UIDisplayInfo{}, err
		}
		return diff, domain.UIDisplayInfo{
			Collapsed: fmt.Sprintf("Edited %s", a.Path),
			Expanded:  diff,
		}, nil
	}
}

func previewEditHandler(engine *fileengine.Engine) tooladapter.Handler {
	return func(_ context.Context, args json.RawMessage) (string, domain.UIDisplayInfo, error) {
		var a editFileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", domain.UIDisplayInfo{}, err
		}
		diff, err := engine.Preview(a.Path, toFileEngineEdits(a.Edits))
		if err != nil {
			return "", domain.UIDisplayInfo{}, err
		}
		return diff, domain.UIDisplayInfo{
			Collapsed: fmt.Sprintf("Previewed edit to %s", a.Path),
			Expanded:  diff,
		}, nil
	}
}
