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

// Package approval decides whether a tool call may execute. The event-backed
// gate persists a TOOL_APPROVAL_REQUEST and suspends the turn with ErrPending
// instead of blocking; a later TOOL_APPROVAL_RESPONSE event resumes it.
package approval

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/lace/internal/pubsub"
	"github.com/teradata-labs/lace/pkg/threads"
)

// ErrPending signals that an approval request was recorded and the caller
// must suspend the tool call until a decision event is appended. It is a
// control signal, not a failure.
var ErrPending = errors.New("tool approval pending")

// Gate turns a tool-call request into a decision.
type Gate interface {
	// RequestApproval returns the decision for the call, or ErrPending when
	// a durable request was recorded and no decision exists yet.
	RequestApproval(ctx context.Context, threadID threads.ThreadID, call threads.ToolCallData) (threads.Decision, error)
}

// Request is published to subscribers when a new approval request is
// persisted, so a UI (or automation) can prompt and answer it.
type Request struct {
	ThreadID   threads.ThreadID
	ToolCallID string
	ToolName   string
	Arguments  map[string]any
}

// EventGate is the event-sourced Gate. Decisions live in the thread as
// TOOL_APPROVAL_RESPONSE events, so a decision recorded before the agent
// observes it (replay, recovery) is honoured without re-prompting.
type EventGate struct {
	manager *threads.Manager
	broker  *pubsub.Broker[Request]

	mu             sync.RWMutex
	sessionAllowed map[string]bool // tool name -> allow_session granted
}

// NewEventGate creates a gate writing through the given thread manager.
func NewEventGate(manager *threads.Manager) *EventGate {
	return &EventGate{
		manager:        manager,
		broker:         pubsub.NewBroker[Request](),
		sessionAllowed: make(map[string]bool),
	}
}

// Subscribe yields newly persisted approval requests until ctx is done.
func (g *EventGate) Subscribe(ctx context.Context) <-chan pubsub.Event[Request] {
	return g.broker.Subscribe(ctx)
}

// AllowSession grants a session-wide allowance for the tool, short-circuiting
// future requests for it.
func (g *EventGate) AllowSession(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionAllowed[toolName] = true
}

func (g *EventGate) sessionAllows(toolName string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessionAllowed[toolName]
}

// RequestApproval implements Gate.
//
// Order matters: session-wide allowances win, then a persisted decision for
// the matching call, then a new durable request is appended and the call
// suspends with ErrPending.
func (g *EventGate) RequestApproval(ctx context.Context, threadID threads.ThreadID, call threads.ToolCallData) (threads.Decision, error) {
	if g.sessionAllows(call.Name) {
		return threads.DecisionAllowSession, nil
	}

	events, err := g.manager.Events(ctx, threadID)
	if err != nil {
		return "", err
	}

	// The call id in a replay may differ from ours; match the most recent
	// TOOL_CALL with the same name and deeply-equal arguments.
	callID := call.ID
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != threads.EventToolCall {
			continue
		}
		prior, ok := events[i].Data.(threads.ToolCallData)
		if !ok {
			continue
		}
		if prior.Name == call.Name && reflect.DeepEqual(prior.Arguments, call.Arguments) {
			callID = prior.ID
			break
		}
	}

	var requested bool
	for _, ev := range events {
		switch ev.Type {
		case threads.EventToolApprovalResp:
			resp, ok := ev.Data.(threads.ApprovalResponseData)
			if ok && resp.ToolCallID == callID {
				if resp.Decision == threads.DecisionAllowSession {
					g.AllowSession(call.Name)
				}
				return resp.Decision, nil
			}
		case threads.EventToolApprovalReq:
			req, ok := ev.Data.(threads.ApprovalRequestData)
			if ok && req.ToolCallID == callID {
				requested = true
			}
		}
	}

	if !requested {
		if _, err := g.manager.Append(ctx, threadID, threads.EventToolApprovalReq,
			threads.ApprovalRequestData{ToolCallID: callID}); err != nil {
			return "", err
		}
		zap.L().Debug("tool approval requested",
			zap.String("thread", string(threadID)),
			zap.String("tool", call.Name),
			zap.String("call_id", callID))
		g.broker.Publish(pubsub.CreatedEvent, Request{
			ThreadID:   threadID,
			ToolCallID: callID,
			ToolName:   call.Name,
			Arguments:  call.Arguments,
		})
	}
	return "", ErrPending
}

// Respond records a decision for a pending call and returns the appended
// event. Decisions are unique per call id: a second response for the same
// call is rejected so replays stay authoritative.
func (g *EventGate) Respond(ctx context.Context, threadID threads.ThreadID, toolCallID string, decision threads.Decision) (*threads.Event, error) {
	events, err := g.manager.Events(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if ev.Type != threads.EventToolApprovalResp {
			continue
		}
		if resp, ok := ev.Data.(threads.ApprovalResponseData); ok && resp.ToolCallID == toolCallID {
			return nil, errors.New("approval already decided for this tool call")
		}
	}
	if decision == threads.DecisionAllowSession {
		for _, ev := range events {
			if ev.Type != threads.EventToolCall {
				continue
			}
			if call, ok := ev.Data.(threads.ToolCallData); ok && call.ID == toolCallID {
				g.AllowSession(call.Name)
			}
		}
	}
	return g.manager.Append(ctx, threadID, threads.EventToolApprovalResp,
		threads.ApprovalResponseData{ToolCallID: toolCallID, Decision: decision})
}

// PolicyGate wraps a Gate with CLI tool policies: auto-approve everything,
// or auto-approve tools whose annotations mark them non-destructive.
type PolicyGate struct {
	AutoApproveAll      bool
	AllowNonDestructive bool
	NonDestructive      func(toolName string) bool
	Next                Gate
}

// RequestApproval implements Gate.
func (p *PolicyGate) RequestApproval(ctx context.Context, threadID threads.ThreadID, call threads.ToolCallData) (threads.Decision, error) {
	if p.AutoApproveAll {
		return threads.DecisionAllowSession, nil
	}
	if p.AllowNonDestructive && p.NonDestructive != nil && p.NonDestructive(call.Name) {
		return threads.DecisionAllowOnce, nil
	}
	if p.Next == nil {
		return threads.DecisionDeny, nil
	}
	return p.Next.RequestApproval(ctx, threadID, call)
}
