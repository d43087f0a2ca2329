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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// runBash executes a command and decodes the tool's JSON payload.
func runBash(t *testing.T, ctx context.Context, command string) (*shuttle.Result, bashPayload) {
	t.Helper()
	result, err := NewBashTool().Execute(ctx, map[string]interface{}{"command": command})
	require.NoError(t, err)
	var payload bashPayload
	require.NoError(t, json.Unmarshal([]byte(result.Text()), &payload))
	return result, payload
}

func TestBashTool_CommandFailureIsCompleted(t *testing.T) {
	// A non-zero exit is the command failing, not the tool.
	result, payload := runBash(t, context.Background(), "false")
	assert.Equal(t, threads.ResultCompleted, result.Status)
	assert.Equal(t, 1, payload.ExitCode)
	assert.Empty(t, payload.StdoutPreview)
	assert.Empty(t, payload.StderrPreview)
}

func TestBashTool_CapturesStdoutAndStderr(t *testing.T) {
	result, payload := runBash(t, context.Background(), "echo out; echo err 1>&2")
	assert.Equal(t, threads.ResultCompleted, result.Status)
	assert.Equal(t, 0, payload.ExitCode)
	assert.Contains(t, payload.StdoutPreview, "out")
	assert.Contains(t, payload.StderrPreview, "err")
	assert.Equal(t, 1, payload.Truncated.Stdout.Total)
	assert.Zero(t, payload.Truncated.Stdout.Skipped)
}

func TestBashTool_PreviewKeepsHeadAndTail(t *testing.T) {
	_, payload := runBash(t, context.Background(), "seq 1 200")

	assert.Equal(t, 200, payload.Truncated.Stdout.Total)
	assert.Equal(t, 200-bashHeadLines-bashTailLines, payload.Truncated.Stdout.Skipped)
	assert.True(t, strings.HasPrefix(payload.StdoutPreview, "1\n"))
	assert.Contains(t, payload.StdoutPreview, "\n...\n")
	assert.True(t, strings.HasSuffix(payload.StdoutPreview, "200"))
	assert.NotContains(t, payload.StdoutPreview, "\n125\n", "elided middle lines stay out")
}

func TestBashTool_FullStreamsSavedToTempDir(t *testing.T) {
	tempDir := t.TempDir()
	ctx := shuttle.WithToolContext(context.Background(), shuttle.ToolContext{TempDir: tempDir})

	_, payload := runBash(t, ctx, "seq 1 200")

	require.Contains(t, payload.OutputFiles, "stdout")
	data, err := os.ReadFile(payload.OutputFiles["stdout"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n125\n", "the full stream keeps what the preview elides")
	assert.Contains(t, payload.OutputFiles, "stderr")
	assert.Contains(t, payload.OutputFiles, "combined")
}

func TestBashTool_WorkingDirectory(t *testing.T) {
	wd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(wd, "marker.txt"), nil, 0o644))

	ctx := shuttle.WithToolContext(context.Background(), shuttle.ToolContext{WorkingDirectory: wd})
	_, payload := runBash(t, ctx, "ls")
	assert.Contains(t, payload.StdoutPreview, "marker.txt")
}

func TestPreviewStream(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		preview, tr := previewStream("")
		assert.Empty(t, preview)
		assert.Zero(t, tr.Total)
	})

	t.Run("short output passes through", func(t *testing.T) {
		preview, tr := previewStream("a\nb\n")
		assert.Equal(t, "a\nb\n", preview)
		assert.Equal(t, 2, tr.Total)
		assert.Zero(t, tr.Skipped)
	})

	t.Run("head and tail", func(t *testing.T) {
		var b strings.Builder
		for i := 1; i <= 500; i++ {
			fmt.Fprintf(&b, "line%d\n", i)
		}
		preview, tr := previewStream(b.String())
		assert.Equal(t, 500, tr.Total)
		assert.Equal(t, 500-bashHeadLines-bashTailLines, tr.Skipped)
		assert.Contains(t, preview, "line100\n...\nline451")
	})

	t.Run("character cap", func(t *testing.T) {
		preview, _ := previewStream(strings.Repeat("x", bashMaxPreviewChars+100))
		assert.Len(t, preview, bashMaxPreviewChars+len("\n..."))
		assert.True(t, strings.HasSuffix(preview, "\n..."))
	})
}
