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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

func TestFileWriteTool_WritesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	result, err := NewFileWriteTool().Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "first",
	})
	require.NoError(t, err)
	assert.Equal(t, threads.ResultCompleted, result.Status)
	assert.Contains(t, result.Text(), "wrote 5 bytes")

	result, err = NewFileWriteTool().Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "second version",
	})
	require.NoError(t, err)
	assert.Equal(t, threads.ResultCompleted, result.Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second version", string(data))
}

func TestFileWriteTool_CreatesParentsByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")

	result, err := NewFileWriteTool().Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "nested",
	})
	require.NoError(t, err)
	assert.Equal(t, threads.ResultCompleted, result.Status)
	assert.FileExists(t, path)
}

func TestFileWriteTool_CreateDirsDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.txt")

	result, err := NewFileWriteTool().Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "nested", "createDirs": false,
	})
	require.NoError(t, err)
	assert.Equal(t, threads.ResultFailed, result.Status)
	assert.Equal(t, "parent_missing", result.Error.Code)
	assert.NotEmpty(t, result.Error.Suggestion)
	assert.NoFileExists(t, path)
}

func TestFileWriteTool_RelativePathUsesWorkingDirectory(t *testing.T) {
	wd := t.TempDir()
	ctx := shuttle.WithToolContext(context.Background(), shuttle.ToolContext{WorkingDirectory: wd})

	_, err := NewFileWriteTool().Execute(ctx, map[string]interface{}{
		"path": "rel.txt", "content": "content",
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(wd, "rel.txt"))
}

func TestRegisterDefaults(t *testing.T) {
	registry := shuttle.NewRegistry()
	RegisterDefaults(registry)

	for _, name := range []string{"bash", "file_read", "file_write"} {
		_, ok := registry.Get(name)
		assert.True(t, ok, "default registry carries %s", name)
	}
}
