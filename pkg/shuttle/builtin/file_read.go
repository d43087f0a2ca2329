// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/teradata-labs/lace/pkg/shuttle"
)

const (
	// maxWholeFileBytes refuses whole-file reads larger than this; callers
	// must switch to ranged reads.
	maxWholeFileBytes = 32 * 1024

	// maxRangeLines caps a single ranged read.
	maxRangeLines = 100
)

// FileReadTool reads file content, whole or by line range.
type FileReadTool struct{}

// NewFileReadTool creates the file read tool.
func NewFileReadTool() *FileReadTool {
	return &FileReadTool{}
}

func (t *FileReadTool) Name() string {
	return "file_read"
}

func (t *FileReadTool) Description() string {
	return `Reads content from a file. Whole-file reads are refused beyond 32 KB;
use startLine/endLine for ranged reads (at most 100 lines per call).
Relative paths resolve against the working directory.`
}

func (t *FileReadTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema(
		"Parameters for reading files",
		map[string]*shuttle.JSONSchema{
			"path":      shuttle.NewStringSchema("File path to read (required)"),
			"startLine": shuttle.NewIntegerSchema("Start reading from this line (1-based)").WithMinimum(1),
			"endLine":   shuttle.NewIntegerSchema("Read through this line (inclusive)").WithMinimum(1),
		},
		[]string{"path"},
	)
}

func (t *FileReadTool) Annotations() shuttle.Annotations {
	return shuttle.Annotations{
		Title:          "Read file",
		ReadOnlyHint:   true,
		IdempotentHint: true,
	}
}

func (t *FileReadTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, _ := params["path"].(string)
	path = resolvePath(ctx, path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return shuttle.NewErrorResult("file_not_found", fmt.Sprintf("file not found: %s", path)), nil
		}
		return shuttle.NewErrorResult("file_not_found", err.Error()), nil
	}

	startLine, hasStart := intParam(params, "startLine")
	endLine, hasEnd := intParam(params, "endLine")

	// Lines are 1-based; guard here as well as in the schema so direct
	// callers get a failed result, never a slice panic.
	if hasStart && startLine < 1 {
		return shuttle.NewErrorResult("invalid_range",
			fmt.Sprintf("startLine %d is invalid; lines are numbered from 1", startLine)), nil
	}
	if hasEnd && endLine < 1 {
		return shuttle.NewErrorResult("invalid_range",
			fmt.Sprintf("endLine %d is invalid; lines are numbered from 1", endLine)), nil
	}

	if !hasStart && !hasEnd {
		if info.Size() > maxWholeFileBytes {
			r := shuttle.NewErrorResult("range_too_large",
				fmt.Sprintf("file is %d bytes; whole-file reads are limited to %d bytes", info.Size(), maxWholeFileBytes))
			r.Error.Suggestion = "use startLine/endLine to read a range"
			return r, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return shuttle.NewErrorResult("read_failed", err.Error()), nil
		}
		return shuttle.NewTextResult(string(data)), nil
	}

	if !hasStart {
		startLine = 1
	}
	if hasEnd && endLine < startLine {
		return shuttle.NewErrorResult("end_before_start",
			fmt.Sprintf("endLine %d precedes startLine %d", endLine, startLine)), nil
	}
	if hasEnd && endLine-startLine+1 > maxRangeLines {
		return shuttle.NewErrorResult("range_too_large",
			fmt.Sprintf("requested %d lines; ranged reads are limited to %d lines", endLine-startLine+1, maxRangeLines)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return shuttle.NewErrorResult("read_failed", err.Error()), nil
	}
	lines := strings.Split(string(data), "\n")

	if startLine > len(lines) {
		return shuttle.NewErrorResult("start_line_exceeds_length",
			fmt.Sprintf("startLine %d exceeds file length %d", startLine, len(lines))), nil
	}
	if !hasEnd || endLine > len(lines) {
		endLine = len(lines)
	}
	if endLine-startLine+1 > maxRangeLines {
		endLine = startLine + maxRangeLines - 1
	}

	return shuttle.NewTextResult(strings.Join(lines[startLine-1:endLine], "\n")), nil
}

// resolvePath resolves relative paths against the call's working directory,
// falling back to the process directory.
func resolvePath(ctx context.Context, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if wd := shuttle.ToolContextFrom(ctx).WorkingDirectory; wd != "" {
		return filepath.Join(wd, path)
	}
	return path
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
