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

// Package agent runs the conversation state machine. An agent is the single
// writer on its thread: it appends user messages, calls the provider, runs
// tool calls through the executor, and persists every step as events. All
// observable behavior is emitted on a typed event stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/lace/internal/pubsub"
	"github.com/teradata-labs/lace/pkg/approval"
	"github.com/teradata-labs/lace/pkg/compaction"
	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// ErrNotStarted is returned by SendMessage before Start.
var ErrNotStarted = errors.New("agent not started")

// ErrBusy is returned by Resume while a turn is in flight.
var ErrBusy = errors.New("agent busy")

// Config assembles an agent.
type Config struct {
	ThreadID threads.ThreadID
	Provider llm.Provider
	Manager  *threads.Manager
	Executor *shuttle.Executor

	// SystemPrompt is persisted as a SYSTEM_PROMPT event on first start and
	// sent to the provider as the system message.
	SystemPrompt string

	// Budget gates outgoing requests when non-nil.
	Budget *llm.TokenBudget

	// RetryPolicy defaults to llm.DefaultRetryPolicy when zero.
	RetryPolicy llm.RetryPolicy

	// Compactor serves /compact commands when non-nil.
	Compactor *compaction.Compactor

	// DisableStreaming forces non-streaming calls even when the provider
	// supports streaming.
	DisableStreaming bool
}

// Agent is the per-thread conversation driver.
type Agent struct {
	cfg    Config
	retry  llm.RetryPolicy
	broker *pubsub.Broker[AgentEvent]
	queue  *MessageQueue

	mu      sync.Mutex
	state   State
	started bool
	busy    bool
	runCtx  context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New creates an agent. Start must be called before SendMessage.
func New(cfg Config) (*Agent, error) {
	if cfg.Manager == nil {
		return nil, errors.New("agent requires a thread manager")
	}
	if cfg.Provider == nil {
		return nil, errors.New("agent requires a provider")
	}
	if cfg.Executor == nil {
		return nil, errors.New("agent requires a tool executor")
	}
	if !cfg.ThreadID.Valid() {
		return nil, fmt.Errorf("invalid thread id %q", cfg.ThreadID)
	}

	retry := cfg.RetryPolicy
	if retry.MaxAttempts == 0 {
		retry = llm.DefaultRetryPolicy()
	}

	return &Agent{
		cfg:    cfg,
		retry:  retry,
		broker: pubsub.NewBroker[AgentEvent](),
		queue:  NewMessageQueue(),
		state:  StateIdle,
	}, nil
}

// ThreadID returns the thread this agent writes to.
func (a *Agent) ThreadID() threads.ThreadID {
	return a.cfg.ThreadID
}

// Provider returns the agent's provider.
func (a *Agent) Provider() llm.Provider {
	return a.cfg.Provider
}

// Executor returns the agent's tool executor.
func (a *Agent) Executor() *shuttle.Executor {
	return a.cfg.Executor
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// QueueStats returns the message queue snapshot.
func (a *Agent) QueueStats() QueueStats {
	return a.queue.Stats()
}

// Subscribe yields agent events until ctx is done. Slow consumers miss
// events; display layers tolerate that.
func (a *Agent) Subscribe(ctx context.Context) <-chan pubsub.Event[AgentEvent] {
	return a.broker.Subscribe(ctx)
}

// SubscribeUnbounded yields every agent event in order, queuing in memory
// while the consumer is slow. For consumers that must not miss completion
// or error events.
func (a *Agent) SubscribeUnbounded(ctx context.Context) <-chan pubsub.Event[AgentEvent] {
	return a.broker.SubscribeUnbounded(ctx)
}

// Start prepares the agent for messages. On the first start of a thread the
// configured system prompt is persisted as a SYSTEM_PROMPT event. Starting
// a started agent is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.runCtx = runCtx
	a.cancel = cancel
	a.started = true
	a.mu.Unlock()

	if a.cfg.SystemPrompt != "" {
		events, err := a.cfg.Manager.Events(ctx, a.cfg.ThreadID)
		if err != nil {
			return err
		}
		havePrompt := false
		for _, ev := range events {
			if ev.Type == threads.EventSystemPrompt {
				havePrompt = true
				break
			}
		}
		if !havePrompt {
			if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID,
				threads.EventSystemPrompt, a.cfg.SystemPrompt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop cancels any in-flight work and waits for the turn to wind down.
// Idempotent.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.state = StateIdle
	a.busy = false
	a.mu.Unlock()
	return nil
}

// SendMessage delivers text to the agent, starting a turn when idle. While
// a turn is in flight the message is queued regardless of options; Queue
// and Priority only shape where it lands.
func (a *Agent) SendMessage(ctx context.Context, text string) error {
	return a.SendMessageWithOptions(ctx, text, SendOptions{})
}

// SendMessageWithOptions is SendMessage with queue placement control.
func (a *Agent) SendMessageWithOptions(_ context.Context, text string, opts SendOptions) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	if a.busy {
		length := a.queue.Enqueue(text, opts.Metadata.Priority == PriorityHigh)
		a.mu.Unlock()
		a.emit(AgentEvent{Type: EventMessageQueued, QueueLength: length})
		return nil
	}
	a.busy = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.runLoop(text)
	return nil
}

// Resume continues a turn suspended on a pending approval. The decision
// must already be persisted (gate.Respond); the agent re-executes the
// unanswered tool calls and carries on.
func (a *Agent) Resume(_ context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	if a.busy {
		a.mu.Unlock()
		return ErrBusy
	}
	a.busy = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.runLoop("")
	return nil
}

// runLoop drives one turn and then drains the queue. conversation_complete
// fires when the drain observes an empty queue.
func (a *Agent) runLoop(text string) {
	defer a.wg.Done()

	if suspended := a.runTurn(text); suspended {
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
		return
	}

	drainStarted := false
	for {
		a.mu.Lock()
		msg, ok := a.queue.Dequeue()
		if !ok {
			a.busy = false
			a.mu.Unlock()
			break
		}
		a.mu.Unlock()

		if !drainStarted {
			drainStarted = true
			a.emit(AgentEvent{Type: EventQueueProcessingStart})
		}
		// One failed queued message does not abort the drain; failures have
		// already been emitted as error events.
		if suspended := a.runTurn(msg); suspended {
			a.mu.Lock()
			a.busy = false
			a.mu.Unlock()
			return
		}
	}
	if drainStarted {
		a.emit(AgentEvent{Type: EventQueueProcessingComplete})
	}
	a.emit(AgentEvent{Type: EventConversationComplete})
}

// runTurn runs the turn algorithm for one inbound message. Returns true
// when the turn suspended on a pending approval.
func (a *Agent) runTurn(text string) bool {
	ctx := a.runCtx

	a.setState(StateThinking)
	a.emit(AgentEvent{Type: EventThinkingStart})

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/compact") {
		a.handleCompact(ctx, trimmed)
		a.setState(StateIdle)
		return false
	}
	if trimmed != "" {
		if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID, threads.EventUserMessage, text); err != nil {
			a.fail("persistence", err)
			return false
		}
	}

	for {
		events, err := a.cfg.Manager.Events(ctx, a.cfg.ThreadID)
		if err != nil {
			a.fail("persistence", err)
			return false
		}

		// Unanswered tool calls run first. This covers fresh calls from the
		// previous iteration, resumption after an approval decision, and
		// recovery of a thread interrupted mid-execution.
		pending := unansweredToolCalls(events)
		if len(pending) > 0 {
			a.setState(StateToolExecution)
			for _, call := range pending {
				result, err := a.cfg.Executor.Execute(ctx, a.cfg.ThreadID, call)
				if errors.Is(err, approval.ErrPending) {
					a.emit(AgentEvent{Type: EventApprovalPending, ToolCallID: call.ID})
					a.setState(StateIdle)
					return true
				}
				if err != nil {
					a.fail("tool_execution", err)
					return false
				}
				if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID, threads.EventToolResult,
					threads.ToolResultData{ID: call.ID, Content: result.Content, Status: result.Status,
						Metadata: result.Metadata}); err != nil {
					a.fail("persistence", err)
					return false
				}
			}
			a.setState(StateThinking)
			events, err = a.cfg.Manager.Events(ctx, a.cfg.ThreadID)
			if err != nil {
				a.fail("persistence", err)
				return false
			}
		}

		messages, err := a.buildMessages(events)
		if err != nil {
			a.fail("conversation_build", err)
			return false
		}

		if a.cfg.Budget != nil {
			warn, err := a.cfg.Budget.CheckRequest(messages)
			if warn || err != nil {
				status := a.cfg.Budget.Status()
				a.emit(AgentEvent{Type: EventTokenBudgetWarning, Budget: &status})
			}
			if err != nil {
				// Blocked request: no synthetic reply, the log stays clean.
				zap.L().Warn("request blocked by token budget",
					zap.String("thread", string(a.cfg.ThreadID)), zap.Error(err))
				a.setState(StateIdle)
				return false
			}
		}

		resp, cancelled, err := a.callProvider(ctx, messages)
		if cancelled {
			// Benign end of turn; whatever streamed is kept.
			if resp != nil && resp.Content != "" {
				if _, aerr := a.cfg.Manager.Append(context.Background(), a.cfg.ThreadID,
					threads.EventAgentMessage, resp.Content); aerr != nil {
					zap.L().Warn("failed to persist partial response", zap.Error(aerr))
				}
				a.emit(AgentEvent{Type: EventResponseComplete, Content: resp.Content})
			}
			a.setState(StateIdle)
			return false
		}
		if err != nil {
			a.fail("provider_response", err)
			return false
		}

		if a.cfg.Budget != nil && resp.Usage != nil {
			a.cfg.Budget.RecordUsage(*resp.Usage)
		}

		if resp.Content != "" {
			if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID, threads.EventAgentMessage, resp.Content); err != nil {
				a.fail("persistence", err)
				return false
			}
		}
		a.emit(AgentEvent{Type: EventThinkingComplete})
		a.emit(AgentEvent{Type: EventResponseComplete, Content: resp.Content})

		if len(resp.ToolCalls) == 0 {
			a.setState(StateIdle)
			return false
		}

		for _, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID, threads.EventToolCall, call); err != nil {
				a.fail("persistence", err)
				return false
			}
		}
		// Loop: the calls execute as pending, then a fresh provider call.
	}
}

// callProvider issues one provider call under the retry policy, streaming
// when supported. The bool result reports cooperative cancellation; the
// returned response then carries whatever content streamed before it.
func (a *Agent) callProvider(ctx context.Context, messages []llm.Message) (*llm.Response, bool, error) {
	tools := a.cfg.Executor.Registry().ListTools()
	sp, streamable := a.cfg.Provider.(llm.StreamingProvider)
	useStreaming := streamable && !a.cfg.DisableStreaming

	var resp *llm.Response
	var partial strings.Builder

	onRetry := func(status llm.RetryStatus) {
		a.emit(AgentEvent{Type: EventRetryStatus, Retry: &status})
	}

	err := a.retry.Do(ctx, onRetry, func(ctx context.Context) error {
		if useStreaming {
			a.setState(StateStreaming)
			partial.Reset()
			r, err := sp.CreateStreamingResponse(ctx, messages, tools, func(token string) {
				partial.WriteString(token)
				a.emit(AgentEvent{Type: EventToken, Token: token})
			})
			if err != nil {
				return err
			}
			resp = r
			return nil
		}
		r, err := a.cfg.Provider.CreateResponse(ctx, messages, tools)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return &llm.Response{Content: partial.String()}, true, nil
		}
		return nil, false, err
	}
	return resp, false, nil
}

// buildMessages projects the thread's events into provider messages.
// The system message comes from the thread's persisted SYSTEM_PROMPT and
// USER_SYSTEM_PROMPT events, so a resumed thread keeps the prompt it was
// started with; the configured prompt is only a fallback for threads that
// never persisted one. Administrative events are never model-visible.
// Orphaned tool calls or results get minimal synthesized carriers so
// history stays valid.
func (a *Agent) buildMessages(events []threads.Event) ([]llm.Message, error) {
	var messages []llm.Message

	var prompts []string
	for _, ev := range events {
		if ev.Type != threads.EventSystemPrompt && ev.Type != threads.EventUserSystemPrompt {
			continue
		}
		if s, ok := ev.Data.(string); ok && s != "" {
			prompts = append(prompts, s)
		}
	}
	if len(prompts) == 0 && a.cfg.SystemPrompt != "" {
		prompts = append(prompts, a.cfg.SystemPrompt)
	}
	if len(prompts) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: strings.Join(prompts, "\n\n")})
	}

	for _, ev := range events {
		switch ev.Type {
		case threads.EventSystemPrompt, threads.EventUserSystemPrompt,
			threads.EventLocalSystemMessage, threads.EventToolApprovalReq,
			threads.EventToolApprovalResp, threads.EventCompaction:
			// Prompt events were folded into the system message above; the
			// rest are administrative and never model-visible.

		case threads.EventUserMessage:
			s, _ := ev.Data.(string)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: s})

		case threads.EventAgentMessage:
			s, _ := ev.Data.(string)
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: s})

		case threads.EventToolCall:
			call, ok := ev.Data.(threads.ToolCallData)
			if !ok {
				return nil, fmt.Errorf("malformed TOOL_CALL payload in %s", ev.ID)
			}
			if n := len(messages); n > 0 && messages[n-1].Role == llm.RoleAssistant {
				messages[n-1].ToolCalls = append(messages[n-1].ToolCalls, call)
			} else {
				messages = append(messages, llm.Message{
					Role:      llm.RoleAssistant,
					ToolCalls: []threads.ToolCallData{call},
				})
			}

		case threads.EventToolResult:
			result, ok := ev.Data.(threads.ToolResultData)
			if !ok {
				return nil, fmt.Errorf("malformed TOOL_RESULT payload in %s", ev.ID)
			}
			if n := len(messages); n > 0 && messages[n-1].Role == llm.RoleUser && len(messages[n-1].ToolResults) > 0 {
				messages[n-1].ToolResults = append(messages[n-1].ToolResults, result)
			} else {
				messages = append(messages, llm.Message{
					Role:        llm.RoleUser,
					ToolResults: []threads.ToolResultData{result},
				})
			}

		default:
			return nil, fmt.Errorf("unknown event type %q in thread %s", ev.Type, ev.ThreadID)
		}
	}
	return messages, nil
}

// handleCompact serves a "/compact [strategy]" command.
func (a *Agent) handleCompact(ctx context.Context, command string) {
	// Persisted like any input so handlers can detect the trigger.
	if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID, threads.EventUserMessage, command); err != nil {
		a.fail("persistence", err)
		return
	}
	if a.cfg.Compactor == nil {
		a.fail("compaction", errors.New("no compactor configured"))
		return
	}

	strategyID := "summarize"
	if fields := strings.Fields(command); len(fields) > 1 {
		strategyID = fields[1]
	}
	if strategyID == "summarize" && !a.cfg.Compactor.HasStrategy("summarize") {
		strategyID = "trim-tool-results"
	}

	result, err := a.cfg.Compactor.Compact(ctx, a.cfg.ThreadID, strategyID)
	if err != nil {
		a.fail("compaction", err)
		return
	}
	note := fmt.Sprintf("compacted %d events to %d (strategy %s)",
		result.OriginalEventCount, result.CompactedEvents, strategyID)
	if _, err := a.cfg.Manager.Append(ctx, a.cfg.ThreadID, threads.EventLocalSystemMessage, note); err != nil {
		zap.L().Warn("failed to record compaction note", zap.Error(err))
	}
	a.emit(AgentEvent{Type: EventResponseComplete, Content: note})
}

// unansweredToolCalls returns TOOL_CALLs with no TOOL_RESULT, in append
// order.
func unansweredToolCalls(events []threads.Event) []threads.ToolCallData {
	answered := make(map[string]bool)
	for _, ev := range events {
		if ev.Type == threads.EventToolResult {
			if result, ok := ev.Data.(threads.ToolResultData); ok {
				answered[result.ID] = true
			}
		}
	}
	var pending []threads.ToolCallData
	for _, ev := range events {
		if ev.Type != threads.EventToolCall {
			continue
		}
		if call, ok := ev.Data.(threads.ToolCallData); ok && !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

// setState transitions the state machine, emitting state_change on an
// actual change.
func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	if from == to {
		a.mu.Unlock()
		return
	}
	a.state = to
	a.mu.Unlock()

	a.emit(AgentEvent{Type: EventStateChange, From: from, To: to})
}

// fail translates an error into an error event and returns the agent to
// idle.
func (a *Agent) fail(phase string, err error) {
	zap.L().Error("agent turn failed",
		zap.String("thread", string(a.cfg.ThreadID)),
		zap.String("phase", phase),
		zap.Error(err))
	a.emit(AgentEvent{Type: EventError, Err: err.Error(), Phase: phase})
	a.setState(StateIdle)
}

func (a *Agent) emit(ev AgentEvent) {
	ev.ThreadID = a.cfg.ThreadID
	a.broker.Publish(pubsub.CreatedEvent, ev)
}
