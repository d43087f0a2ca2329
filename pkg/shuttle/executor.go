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
package shuttle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/lace/pkg/approval"
	"github.com/teradata-labs/lace/pkg/threads"
)

// Executor runs tool calls through the full pipeline: lookup, schema
// validation, approval, temp-directory provisioning, execution. One call
// executes per agent turn at a time; executors of different agents may run
// concurrently.
type Executor struct {
	registry   *Registry
	gate       approval.Gate
	workingDir string
	tempRoot   string // session temp root; per-call dirs nest under it
}

// NewExecutor creates a new tool executor over the registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// SetApprovalGate configures approval checking for tool execution.
func (e *Executor) SetApprovalGate(gate approval.Gate) {
	e.gate = gate
}

// SetWorkingDirectory sets the directory tools resolve relative paths against.
func (e *Executor) SetWorkingDirectory(dir string) {
	e.workingDir = dir
}

// SetTempRoot sets the session directory under which per-call temp
// directories are created.
func (e *Executor) SetTempRoot(dir string) {
	e.tempRoot = dir
}

// CloneForDelegate copies the executor with the delegate tool removed from
// its registry, preserving directories and gate.
func (e *Executor) CloneForDelegate() *Executor {
	clone := NewExecutor(e.registry.CloneWithout("delegate"))
	clone.gate = e.gate
	clone.workingDir = e.workingDir
	clone.tempRoot = e.tempRoot
	return clone
}

// Execute runs one tool call. Tool-layer problems (unknown tool, schema
// violation, transport error) come back as failed results; a denial comes
// back denied; approval.ErrPending propagates as an error so the agent can
// suspend the turn. The context's cancellation is passed through to the
// tool.
func (e *Executor) Execute(ctx context.Context, threadID threads.ThreadID, call threads.ToolCallData) (*Result, error) {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		r := NewErrorResult("tool_not_found", fmt.Sprintf("tool not found: %s", call.Name))
		r.ID = call.ID
		return r, nil
	}

	if err := ValidateArguments(tool, call.Arguments); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			r := NewErrorResult("validation_error", verr.Error())
			r.ID = call.ID
			return r, nil
		}
		return nil, err
	}

	if e.gate != nil {
		decision, err := e.gate.RequestApproval(ctx, threadID, call)
		if err != nil {
			// ErrPending included: the agent suspends this call.
			return nil, err
		}
		if !decision.Allowed() {
			r := NewDeniedResult(fmt.Sprintf("user denied permission to run %s", call.Name))
			r.ID = call.ID
			return r, nil
		}
	}

	tc := ToolContext{WorkingDirectory: e.workingDir}
	if e.tempRoot != "" {
		dir := filepath.Join(e.tempRoot, "tool-call-"+call.ID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			zap.L().Warn("failed to create tool temp dir",
				zap.String("dir", dir), zap.Error(err))
		} else {
			tc.TempDir = dir
		}
	}

	start := time.Now()
	result, err := tool.Execute(WithToolContext(ctx, tc), call.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			r := NewErrorResult("cancelled", fmt.Sprintf("tool %s was cancelled", call.Name))
			r.ID = call.ID
			r.ExecutionTimeMs = elapsed.Milliseconds()
			return r, nil
		}
		r := NewErrorResult("execution_failed", err.Error())
		r.ID = call.ID
		r.ExecutionTimeMs = elapsed.Milliseconds()
		return r, nil
	}

	if result == nil {
		result = NewTextResult("")
	}
	result.ID = call.ID
	// Executor timing is authoritative even when the tool set its own.
	result.ExecutionTimeMs = elapsed.Milliseconds()
	return result, nil
}
