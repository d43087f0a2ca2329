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

// Package builtin provides the built-in tool set: shell execution and
// file I/O.
package builtin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/lace/pkg/shuttle"
)

const (
	// bashHeadLines and bashTailLines bound the preview: first 100 lines,
	// ellipsis, last 50 lines.
	bashHeadLines = 100
	bashTailLines = 50

	// bashMaxPreviewChars is the hard cap on each preview string.
	bashMaxPreviewChars = 10 * 1024
)

// BashTool executes shell commands. Non-zero exit codes are completed
// executions: the command failed, the tool did not.
type BashTool struct{}

// NewBashTool creates the bash tool.
func NewBashTool() *BashTool {
	return &BashTool{}
}

func (t *BashTool) Name() string {
	return "bash"
}

func (t *BashTool) Description() string {
	return `Executes a bash command on the local system and reports exit code,
truncated stdout/stderr previews, and paths to the full output files.
Use this for listing files, running builds and tests, and inspecting the
system. Output previews keep the first 100 and last 50 lines; complete
streams are saved to the call's temp directory.`
}

func (t *BashTool) InputSchema() *shuttle.JSONSchema {
	one := 1
	return shuttle.NewObjectSchema(
		"Parameters for bash command execution",
		map[string]*shuttle.JSONSchema{
			"command": shuttle.NewStringSchema("Shell command to execute (required, non-empty)").
				WithLength(&one, nil),
		},
		[]string{"command"},
	)
}

func (t *BashTool) Annotations() shuttle.Annotations {
	return shuttle.Annotations{
		Title:           "Run shell command",
		DestructiveHint: true,
		OpenWorldHint:   true,
	}
}

// bashPayload is the tool's external output contract.
type bashPayload struct {
	ExitCode      int               `json:"exitCode"`
	StdoutPreview string            `json:"stdoutPreview"`
	StderrPreview string            `json:"stderrPreview"`
	Runtime       int64             `json:"runtime"` // milliseconds
	Truncated     bashTruncation    `json:"truncated"`
	OutputFiles   map[string]string `json:"outputFiles,omitempty"`
}

type bashTruncation struct {
	Stdout streamTruncation `json:"stdout"`
	Stderr streamTruncation `json:"stderr"`
}

type streamTruncation struct {
	Total   int `json:"total"`   // total lines produced
	Skipped int `json:"skipped"` // lines elided from the preview
}

// syncWriter serializes writes from stdout and stderr into the combined log.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (t *BashTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	command, _ := params["command"].(string)
	tc := shuttle.ToolContextFrom(ctx)

	var stdout, stderr, combined bytes.Buffer
	shared := &syncWriter{w: &combined}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if tc.WorkingDirectory != "" {
		cmd.Dir = tc.WorkingDirectory
	}
	cmd.Stdout = io.MultiWriter(&stdout, shared)
	cmd.Stderr = io.MultiWriter(&stderr, shared)

	start := time.Now()
	runErr := cmd.Run()
	runtime := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else {
			// Command could not be started at all.
			return shuttle.NewErrorResult("spawn_failed", runErr.Error()), nil
		}
	}

	payload := bashPayload{
		ExitCode: exitCode,
		Runtime:  runtime.Milliseconds(),
	}
	payload.StdoutPreview, payload.Truncated.Stdout = previewStream(stdout.String())
	payload.StderrPreview, payload.Truncated.Stderr = previewStream(stderr.String())

	// Full streams always land on disk when the call has a temp dir.
	if tc.TempDir != "" {
		files := map[string]string{}
		for name, data := range map[string][]byte{
			"stdout":   stdout.Bytes(),
			"stderr":   stderr.Bytes(),
			"combined": combined.Bytes(),
		} {
			path := filepath.Join(tc.TempDir, name)
			if err := os.WriteFile(path, data, 0o644); err == nil {
				files[name] = path
			}
		}
		payload.OutputFiles = files
	}

	return shuttle.NewJSONResult(payload)
}

// previewStream keeps the head and tail of the stream with an ellipsis
// marker, then enforces the hard character cap.
func previewStream(s string) (string, streamTruncation) {
	if s == "" {
		return "", streamTruncation{}
	}

	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	tr := streamTruncation{Total: len(lines)}

	preview := s
	if len(lines) > bashHeadLines+bashTailLines {
		tr.Skipped = len(lines) - bashHeadLines - bashTailLines
		head := strings.Join(lines[:bashHeadLines], "\n")
		tail := strings.Join(lines[len(lines)-bashTailLines:], "\n")
		preview = head + "\n...\n" + tail
	}

	if len(preview) > bashMaxPreviewChars {
		preview = preview[:bashMaxPreviewChars] + "\n..."
	}
	return preview, tr
}
