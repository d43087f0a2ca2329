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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lace/internal/pubsub"
	"github.com/teradata-labs/lace/pkg/approval"
	"github.com/teradata-labs/lace/pkg/compaction"
	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// scriptedProvider pops pre-arranged responses; when the script runs out it
// answers with plain text so turns always terminate.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  [][]llm.Message

	// block, when non-nil, holds every call until it is closed.
	block chan struct{}
}

func (p *scriptedProvider) CreateResponse(ctx context.Context, messages []llm.Message, _ []shuttle.Tool) (*llm.Response, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, messages)
	if len(p.responses) == 0 {
		return &llm.Response{Content: "done", StopReason: "end_turn"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-1" }

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// echoTool answers with its "text" argument.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes text back" }
func (echoTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("echo parameters",
		map[string]*shuttle.JSONSchema{"text": shuttle.NewStringSchema("text to echo")},
		[]string{"text"})
}
func (echoTool) Annotations() shuttle.Annotations { return shuttle.Annotations{ReadOnlyHint: true} }
func (echoTool) Execute(_ context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	text, _ := params["text"].(string)
	return shuttle.NewTextResult(text), nil
}

type testEnv struct {
	manager  *threads.Manager
	agent    *Agent
	provider *scriptedProvider
	threadID threads.ThreadID
}

func newTestEnv(t *testing.T, provider *scriptedProvider, mutate func(*Config)) *testEnv {
	t.Helper()
	manager := threads.NewManager(threads.NewMemoryStore())
	threadID, err := manager.CreateThread(context.Background())
	require.NoError(t, err)

	registry := shuttle.NewRegistry()
	registry.Register(echoTool{})

	cfg := Config{
		ThreadID: threadID,
		Provider: provider,
		Manager:  manager,
		Executor: shuttle.NewExecutor(registry),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop() })

	return &testEnv{manager: manager, agent: a, provider: provider, threadID: threadID}
}

func waitForEvent(t *testing.T, events <-chan pubsub.Event[AgentEvent], want AgentEventType) AgentEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream closed while waiting for %s", want)
			if ev.Payload.Type == want {
				return ev.Payload
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func collectUntil(t *testing.T, events <-chan pubsub.Event[AgentEvent], stop AgentEventType) []AgentEvent {
	t.Helper()
	var seen []AgentEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream closed while collecting")
			seen = append(seen, ev.Payload)
			if ev.Payload.Type == stop {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out collecting until %s", stop)
		}
	}
}

func eventTypes(events []threads.Event) []threads.EventType {
	out := make([]threads.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestAgent_SendBeforeStart(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{}, nil)
	err := env.agent.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, env.agent.Resume(context.Background()), ErrNotStarted)
}

func TestAgent_SimpleTurn(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: "hi there", Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 4}},
	}}
	env := newTestEnv(t, provider, nil)

	require.NoError(t, env.agent.Start(ctx))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := env.agent.Subscribe(subCtx)

	require.NoError(t, env.agent.SendMessage(ctx, "hello"))

	resp := waitForEvent(t, events, EventResponseComplete)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, env.threadID, resp.ThreadID)
	waitForEvent(t, events, EventConversationComplete)

	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	assert.Equal(t, []threads.EventType{
		threads.EventUserMessage,
		threads.EventAgentMessage,
	}, eventTypes(stored))
	assert.Equal(t, "hello", stored[0].Data)
	assert.Equal(t, "hi there", stored[1].Data)

	assert.Equal(t, StateIdle, env.agent.State())
}

func TestAgent_SystemPromptPersistedOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedProvider{}, func(cfg *Config) {
		cfg.SystemPrompt = "You are terse."
	})

	require.NoError(t, env.agent.Start(ctx))
	require.NoError(t, env.agent.Stop())
	require.NoError(t, env.agent.Start(ctx))

	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, threads.EventSystemPrompt, stored[0].Type)
	assert.Equal(t, "You are terse.", stored[0].Data)
}

func TestAgent_ToolCallTurn(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []*llm.Response{
		{
			ToolCalls: []threads.ToolCallData{
				{ID: "call-1", Name: "echo", Arguments: map[string]any{"text": "ping"}},
			},
			StopReason: "tool_use",
		},
		{Content: "the tool said ping"},
	}}
	env := newTestEnv(t, provider, nil)

	require.NoError(t, env.agent.Start(ctx))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := env.agent.Subscribe(subCtx)

	require.NoError(t, env.agent.SendMessage(ctx, "run echo"))
	waitForEvent(t, events, EventConversationComplete)

	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	assert.Equal(t, []threads.EventType{
		threads.EventUserMessage,
		threads.EventToolCall,
		threads.EventToolResult,
		threads.EventAgentMessage,
	}, eventTypes(stored))

	result := stored[2].Data.(threads.ToolResultData)
	assert.Equal(t, "call-1", result.ID)
	assert.Equal(t, threads.ResultCompleted, result.Status)
	assert.Equal(t, "ping", result.Text())

	// The second request carries the tool exchange back to the model.
	require.Equal(t, 2, provider.requestCount())
	second := provider.requests[1]
	var sawCall, sawResult bool
	for _, msg := range second {
		if len(msg.ToolCalls) > 0 {
			sawCall = true
		}
		if len(msg.ToolResults) > 0 {
			sawResult = true
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawResult)
}

func TestAgent_QueueDrain(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	provider := &scriptedProvider{block: block}
	env := newTestEnv(t, provider, nil)

	require.NoError(t, env.agent.Start(ctx))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := env.agent.Subscribe(subCtx)

	require.NoError(t, env.agent.SendMessage(ctx, "one"))
	require.NoError(t, env.agent.SendMessage(ctx, "two"))
	require.NoError(t, env.agent.SendMessageWithOptions(ctx, "URGENT", SendOptions{
		Queue:    true,
		Metadata: MessageMetadata{Priority: PriorityHigh},
	}))

	queued := waitForEvent(t, events, EventMessageQueued)
	assert.Positive(t, queued.QueueLength)
	stats := env.agent.QueueStats()
	assert.Equal(t, 2, stats.QueueLength)
	assert.Equal(t, 1, stats.HighPriorityCount)

	close(block)
	seen := collectUntil(t, events, EventConversationComplete)

	var starts, completes int
	for _, ev := range seen {
		switch ev.Type {
		case EventQueueProcessingStart:
			starts++
		case EventQueueProcessingComplete:
			completes++
		}
	}
	assert.Equal(t, 1, starts, "queue_processing_start fires once per drain")
	assert.Equal(t, 1, completes)

	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	var userMessages []string
	for _, ev := range stored {
		if ev.Type == threads.EventUserMessage {
			userMessages = append(userMessages, ev.Data.(string))
		}
	}
	assert.Equal(t, []string{"one", "URGENT", "two"}, userMessages,
		"the high-priority message drains before earlier normal ones")
}

func TestAgent_ApprovalSuspendAndResume(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []threads.ToolCallData{
			{ID: "call-1", Name: "echo", Arguments: map[string]any{"text": "guarded"}},
		}},
		{Content: "approved and executed"},
	}}

	var gate *approval.EventGate
	env := newTestEnv(t, provider, nil)
	gate = approval.NewEventGate(env.manager)
	env.agent.Executor().SetApprovalGate(gate)

	require.NoError(t, env.agent.Start(ctx))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := env.agent.Subscribe(subCtx)

	require.NoError(t, env.agent.SendMessage(ctx, "do the guarded thing"))

	pending := waitForEvent(t, events, EventApprovalPending)
	assert.Equal(t, "call-1", pending.ToolCallID)

	// The suspension is durable: request event persisted, turn wound down.
	require.Eventually(t, func() bool {
		return env.agent.State() == StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	assert.Contains(t, eventTypes(stored), threads.EventToolApprovalReq)

	// While suspended the agent accepts a resume after the decision lands.
	_, err = gate.Respond(ctx, env.threadID, "call-1", threads.DecisionAllowOnce)
	require.NoError(t, err)
	require.NoError(t, env.agent.Resume(ctx))

	waitForEvent(t, events, EventConversationComplete)

	stored, err = env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	types := eventTypes(stored)
	assert.Contains(t, types, threads.EventToolResult)
	assert.Equal(t, threads.EventAgentMessage, types[len(types)-1])

	for _, ev := range stored {
		if ev.Type == threads.EventToolResult {
			result := ev.Data.(threads.ToolResultData)
			assert.Equal(t, threads.ResultCompleted, result.Status)
			assert.Equal(t, "guarded", result.Text())
		}
	}
}

func TestAgent_DeniedToolCall(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []threads.ToolCallData{
			{ID: "call-1", Name: "echo", Arguments: map[string]any{"text": "nope"}},
		}},
		{Content: "understood, not doing that"},
	}}
	env := newTestEnv(t, provider, nil)
	env.agent.Executor().SetApprovalGate(&approval.PolicyGate{}) // denies everything

	require.NoError(t, env.agent.Start(ctx))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := env.agent.Subscribe(subCtx)

	require.NoError(t, env.agent.SendMessage(ctx, "try it"))
	waitForEvent(t, events, EventConversationComplete)

	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	var denied bool
	for _, ev := range stored {
		if ev.Type == threads.EventToolResult {
			result := ev.Data.(threads.ToolResultData)
			assert.Equal(t, threads.ResultDenied, result.Status)
			denied = true
		}
	}
	assert.True(t, denied, "the denial is persisted as a TOOL_RESULT")
}

func TestAgent_CompactCommand(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedProvider{}, func(cfg *Config) {
		cfg.Compactor = nil // set below, needs the manager
	})
	env.agent.cfg.Compactor = compaction.NewCompactor(env.manager,
		&compaction.TrimToolResultsStrategy{MaxResultChars: 10})

	// Seed a conversation with a bulky tool result.
	_, err := env.manager.Append(ctx, env.threadID, threads.EventUserMessage, "read the file")
	require.NoError(t, err)
	_, err = env.manager.Append(ctx, env.threadID, threads.EventToolResult, threads.ToolResultData{
		ID:      "call-1",
		Content: []threads.ContentBlock{threads.TextBlock("a very long tool result payload")},
		Status:  threads.ResultCompleted,
	})
	require.NoError(t, err)

	require.NoError(t, env.agent.Start(ctx))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := env.agent.Subscribe(subCtx)

	require.NoError(t, env.agent.SendMessage(ctx, "/compact trim-tool-results"))
	resp := waitForEvent(t, events, EventResponseComplete)
	assert.Contains(t, resp.Content, "compacted")
	waitForEvent(t, events, EventConversationComplete)

	// Reads through the manager now see the shadow with the trimmed result.
	stored, err := env.manager.Events(ctx, env.threadID)
	require.NoError(t, err)
	for _, ev := range stored {
		if ev.Type == threads.EventToolResult {
			result := ev.Data.(threads.ToolResultData)
			assert.Contains(t, result.Text(), "[trimmed]")
		}
	}
}

func TestAgent_StopIsIdempotent(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{}, nil)
	require.NoError(t, env.agent.Start(context.Background()))
	require.NoError(t, env.agent.Stop())
	require.NoError(t, env.agent.Stop())
	assert.Equal(t, StateIdle, env.agent.State())
}

func TestBuildMessages(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{}, func(cfg *Config) {
		cfg.SystemPrompt = "Be brief."
	})

	now := time.Now()
	events := []threads.Event{
		{ID: "e1", Type: threads.EventSystemPrompt, Timestamp: now, Data: "Be brief."},
		{ID: "e2", Type: threads.EventUserMessage, Timestamp: now, Data: "hi"},
		{ID: "e3", Type: threads.EventAgentMessage, Timestamp: now, Data: "hello"},
		{ID: "e4", Type: threads.EventToolCall, Timestamp: now, Data: threads.ToolCallData{ID: "c1", Name: "echo"}},
		{ID: "e5", Type: threads.EventToolApprovalReq, Timestamp: now, Data: threads.ApprovalRequestData{ToolCallID: "c1"}},
		{ID: "e6", Type: threads.EventToolApprovalResp, Timestamp: now, Data: threads.ApprovalResponseData{ToolCallID: "c1", Decision: threads.DecisionAllowOnce}},
		{ID: "e7", Type: threads.EventToolResult, Timestamp: now, Data: threads.ToolResultData{ID: "c1", Status: threads.ResultCompleted}},
		{ID: "e8", Type: threads.EventLocalSystemMessage, Timestamp: now, Data: "note"},
		{ID: "e9", Type: threads.EventUserMessage, Timestamp: now, Data: "thanks"},
	}

	messages, err := env.agent.buildMessages(events)
	require.NoError(t, err)
	require.Len(t, messages, 5)

	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "Be brief.", messages[0].Content)
	assert.Equal(t, llm.RoleUser, messages[1].Role)

	// The tool call attaches to the preceding assistant message; the result
	// rides a user message.
	assert.Equal(t, llm.RoleAssistant, messages[2].Role)
	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleUser, messages[3].Role)
	require.Len(t, messages[3].ToolResults, 1)
	assert.Equal(t, llm.RoleUser, messages[4].Role)
	assert.Equal(t, "thanks", messages[4].Content)
}

func TestBuildMessages_PersistedPromptSurvivesResume(t *testing.T) {
	// A resumed thread keeps its stored prompt even when the resuming agent
	// was configured without one.
	env := newTestEnv(t, &scriptedProvider{}, nil)

	now := time.Now()
	events := []threads.Event{
		{ID: "e1", Type: threads.EventSystemPrompt, Timestamp: now, Data: "Persisted instructions."},
		{ID: "e2", Type: threads.EventUserMessage, Timestamp: now, Data: "hi"},
	}

	messages, err := env.agent.buildMessages(events)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "Persisted instructions.", messages[0].Content)
}

func TestBuildMessages_PersistedPromptWinsOverConfig(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{}, func(cfg *Config) {
		cfg.SystemPrompt = "Configured differently."
	})

	now := time.Now()
	events := []threads.Event{
		{ID: "e1", Type: threads.EventSystemPrompt, Timestamp: now, Data: "Persisted instructions."},
		{ID: "e2", Type: threads.EventUserSystemPrompt, Timestamp: now, Data: "User additions."},
		{ID: "e3", Type: threads.EventUserMessage, Timestamp: now, Data: "hi"},
	}

	messages, err := env.agent.buildMessages(events)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "Persisted instructions.\n\nUser additions.", messages[0].Content)
	assert.NotContains(t, messages[0].Content, "Configured differently.")
}

func TestBuildMessages_OrphansSynthesizeCarriers(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{}, nil)

	now := time.Now()
	events := []threads.Event{
		// A result whose call lives in a compacted-away prefix, then a call
		// with no preceding assistant message.
		{ID: "e1", Type: threads.EventToolResult, Timestamp: now, Data: threads.ToolResultData{ID: "old", Status: threads.ResultCompleted}},
		{ID: "e2", Type: threads.EventToolCall, Timestamp: now, Data: threads.ToolCallData{ID: "new", Name: "echo"}},
	}

	messages, err := env.agent.buildMessages(events)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleUser, messages[0].Role)
	require.Len(t, messages[0].ToolResults, 1)
	assert.Equal(t, llm.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].ToolCalls, 1)
}

func TestBuildMessages_UnknownTypeFails(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{}, nil)
	_, err := env.agent.buildMessages([]threads.Event{
		{ID: "e1", Type: threads.EventType("FUTURE_TYPE"), Data: "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}
