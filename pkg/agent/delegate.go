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

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
)

// DefaultDelegateTimeout bounds a delegate run.
const DefaultDelegateTimeout = 60 * time.Second

// Delegate child agents run under a constrained budget.
const (
	delegateBudgetMaxTokens     = 50_000
	delegateBudgetWarnThreshold = 0.7
	delegateBudgetReserve       = 1000
)

// ProviderResolver turns a "provider:model" string into a provider.
type ProviderResolver func(spec string) (llm.Provider, error)

// DelegateTool spawns a child agent on a delegate thread to work a focused
// subtask. The child gets the parent's tool set minus delegate, so
// recursion is bounded by thread depth and budget, not tool access.
type DelegateTool struct {
	parent *Agent

	// ResolveProvider handles the optional model override. Nil means the
	// override is rejected and the parent's provider is always used.
	ResolveProvider ProviderResolver

	// Timeout overrides DefaultDelegateTimeout when positive.
	Timeout time.Duration
}

// NewDelegateTool creates the delegate tool bound to its parent agent.
func NewDelegateTool(parent *Agent) *DelegateTool {
	return &DelegateTool{parent: parent}
}

func (t *DelegateTool) Name() string {
	return "delegate"
}

func (t *DelegateTool) Description() string {
	return `Delegates a focused subtask to a child agent with its own thread and
token budget. Provide a short title, the full prompt, and the shape of the
response you expect back. Optionally pick a different model as
"provider:model".`
}

func (t *DelegateTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema(
		"Parameters for delegating a subtask",
		map[string]*shuttle.JSONSchema{
			"title":             shuttle.NewStringSchema("Short human-readable task title (required)"),
			"prompt":            shuttle.NewStringSchema("Complete instructions for the child agent (required)"),
			"expected_response": shuttle.NewStringSchema("Description of the expected response format (required)"),
			"model":             shuttle.NewStringSchema("Optional model override as provider:model"),
		},
		[]string{"title", "prompt", "expected_response"},
	)
}

func (t *DelegateTool) Annotations() shuttle.Annotations {
	return shuttle.Annotations{
		Title:         "Delegate subtask",
		OpenWorldHint: true,
	}
}

func (t *DelegateTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	title, _ := params["title"].(string)
	prompt, _ := params["prompt"].(string)
	expected, _ := params["expected_response"].(string)
	modelSpec, _ := params["model"].(string)

	provider := t.parent.Provider()
	if modelSpec != "" {
		if t.ResolveProvider == nil {
			return shuttle.NewErrorResult("invalid_model",
				"model overrides are not supported in this configuration"), nil
		}
		p, err := t.ResolveProvider(modelSpec)
		if err != nil {
			return shuttle.NewErrorResult("invalid_model", err.Error()), nil
		}
		provider = p
	}

	manager := t.parent.cfg.Manager
	childThread, err := manager.CreateDelegateThread(ctx, t.parent.ThreadID())
	if err != nil {
		return shuttle.NewErrorResult("delegate_failed",
			fmt.Sprintf("failed to create delegate thread: %v", err)), nil
	}

	systemPrompt := fmt.Sprintf(
		"You are a focused sub-agent handling one task: %s\n"+
			"Complete the task and reply with exactly what was requested.\n"+
			"Expected response: %s", title, expected)

	child, err := New(Config{
		ThreadID:     childThread,
		Provider:     provider,
		Manager:      manager,
		Executor:     t.parent.Executor().CloneForDelegate(),
		SystemPrompt: systemPrompt,
		Budget: llm.NewTokenBudget(llm.BudgetConfig{
			MaxTokens:        delegateBudgetMaxTokens,
			WarningThreshold: delegateBudgetWarnThreshold,
			ReserveTokens:    delegateBudgetReserve,
		}),
		Compactor:        t.parent.cfg.Compactor,
		DisableStreaming: t.parent.cfg.DisableStreaming,
	})
	if err != nil {
		return shuttle.NewErrorResult("delegate_failed", err.Error()), nil
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultDelegateTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := child.Start(runCtx); err != nil {
		return shuttle.NewErrorResult("delegate_failed", err.Error()), nil
	}
	defer func() {
		if err := child.Stop(); err != nil {
			zap.L().Warn("delegate stop failed", zap.Error(err))
		}
	}()

	// Unbounded: a token burst must not cost us the completion event.
	events := child.SubscribeUnbounded(runCtx)
	if err := child.SendMessage(runCtx, prompt); err != nil {
		return shuttle.NewErrorResult("delegate_failed", err.Error()), nil
	}

	var responses []string
	for {
		select {
		case <-runCtx.Done():
			result := shuttle.NewErrorResult("delegate_timeout",
				fmt.Sprintf("delegate %q did not complete within %s", title, timeout))
			result.Metadata = map[string]interface{}{"delegateThreadId": string(childThread)}
			return result, nil

		case ev, ok := <-events:
			if !ok {
				// The subscription closes when runCtx expires; report that as
				// the timeout it is.
				if runCtx.Err() != nil {
					result := shuttle.NewErrorResult("delegate_timeout",
						fmt.Sprintf("delegate %q did not complete within %s", title, timeout))
					result.Metadata = map[string]interface{}{"delegateThreadId": string(childThread)}
					return result, nil
				}
				result := shuttle.NewErrorResult("delegate_failed",
					fmt.Sprintf("delegate %q event stream closed", title))
				result.Metadata = map[string]interface{}{"delegateThreadId": string(childThread)}
				return result, nil
			}
			switch ev.Payload.Type {
			case EventResponseComplete:
				if ev.Payload.Content != "" {
					responses = append(responses, ev.Payload.Content)
				}
			case EventConversationComplete:
				result := shuttle.NewTextResult(strings.Join(responses, "\n"))
				result.Metadata = map[string]interface{}{"delegateThreadId": string(childThread)}
				return result, nil
			case EventError:
				result := shuttle.NewErrorResult("delegate_failed",
					fmt.Sprintf("delegate %q failed in %s: %s", title, ev.Payload.Phase, ev.Payload.Err))
				result.Metadata = map[string]interface{}{"delegateThreadId": string(childThread)}
				return result, nil
			}
		}
	}
}

var _ shuttle.Tool = (*DelegateTool)(nil)
