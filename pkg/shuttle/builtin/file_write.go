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

	"github.com/teradata-labs/lace/pkg/shuttle"
)

// FileWriteTool writes (and overwrites) files.
type FileWriteTool struct{}

// NewFileWriteTool creates the file write tool.
func NewFileWriteTool() *FileWriteTool {
	return &FileWriteTool{}
}

func (t *FileWriteTool) Name() string {
	return "file_write"
}

func (t *FileWriteTool) Description() string {
	return `Writes content to a file, overwriting any existing content and
creating parent directories by default (set createDirs=false to disable).
Reports the number of bytes written.`
}

func (t *FileWriteTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema(
		"Parameters for writing files",
		map[string]*shuttle.JSONSchema{
			"path":       shuttle.NewStringSchema("File path to write (required)"),
			"content":    shuttle.NewStringSchema("Content to write (required)"),
			"createDirs": shuttle.NewBooleanSchema("Create missing parent directories").WithDefault(true),
		},
		[]string{"path", "content"},
	)
}

func (t *FileWriteTool) Annotations() shuttle.Annotations {
	return shuttle.Annotations{
		Title:           "Write file",
		DestructiveHint: true,
	}
}

func (t *FileWriteTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	path = resolvePath(ctx, path)

	createDirs := true
	if v, ok := params["createDirs"].(bool); ok {
		createDirs = v
	}

	parent := filepath.Dir(path)
	if createDirs {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return shuttle.NewErrorResult("mkdir_failed", err.Error()), nil
		}
	} else if _, err := os.Stat(parent); os.IsNotExist(err) {
		r := shuttle.NewErrorResult("parent_missing",
			fmt.Sprintf("directory %s does not exist", parent))
		r.Error.Suggestion = "set createDirs=true or create the directory first"
		return r, nil
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return shuttle.NewErrorResult("write_failed", err.Error()), nil
	}
	return shuttle.NewTextResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// RegisterDefaults registers the built-in tool set on the registry.
func RegisterDefaults(registry *shuttle.Registry) {
	registry.Register(NewBashTool())
	registry.Register(NewFileReadTool())
	registry.Register(NewFileWriteTool())
}
