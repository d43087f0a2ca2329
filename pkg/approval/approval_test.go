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

package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lace/pkg/threads"
)

func newTestThread(t *testing.T) (*threads.Manager, threads.ThreadID) {
	t.Helper()
	m := threads.NewManager(threads.NewMemoryStore())
	id, err := m.CreateThread(context.Background())
	require.NoError(t, err)
	return m, id
}

func bashCall(id string) threads.ToolCallData {
	return threads.ToolCallData{
		ID:        id,
		Name:      "bash",
		Arguments: map[string]any{"command": "rm -rf build"},
	}
}

func TestEventGate_FirstRequestSuspends(t *testing.T) {
	ctx := context.Background()
	m, threadID := newTestThread(t)
	gate := NewEventGate(m)

	_, err := m.Append(ctx, threadID, threads.EventToolCall, bashCall("call-1"))
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	requests := gate.Subscribe(subCtx)

	_, err = gate.RequestApproval(ctx, threadID, bashCall("call-1"))
	require.ErrorIs(t, err, ErrPending)

	// The request is durable.
	events, err := m.Events(ctx, threadID)
	require.NoError(t, err)
	var reqs int
	for _, ev := range events {
		if ev.Type == threads.EventToolApprovalReq {
			reqs++
			req := ev.Data.(threads.ApprovalRequestData)
			assert.Equal(t, "call-1", req.ToolCallID)
		}
	}
	assert.Equal(t, 1, reqs)

	// Subscribers see it.
	select {
	case ev := <-requests:
		assert.Equal(t, "call-1", ev.Payload.ToolCallID)
		assert.Equal(t, "bash", ev.Payload.ToolName)
	default:
		t.Fatal("expected a published approval request")
	}

	// Asking again while pending suspends again without a second request.
	_, err = gate.RequestApproval(ctx, threadID, bashCall("call-1"))
	require.ErrorIs(t, err, ErrPending)

	events, err = m.Events(ctx, threadID)
	require.NoError(t, err)
	reqs = 0
	for _, ev := range events {
		if ev.Type == threads.EventToolApprovalReq {
			reqs++
		}
	}
	assert.Equal(t, 1, reqs, "re-asking must not duplicate the durable request")
}

func TestEventGate_DecisionResumes(t *testing.T) {
	ctx := context.Background()
	m, threadID := newTestThread(t)
	gate := NewEventGate(m)

	_, err := m.Append(ctx, threadID, threads.EventToolCall, bashCall("call-1"))
	require.NoError(t, err)
	_, err = gate.RequestApproval(ctx, threadID, bashCall("call-1"))
	require.ErrorIs(t, err, ErrPending)

	_, err = gate.Respond(ctx, threadID, "call-1", threads.DecisionAllowOnce)
	require.NoError(t, err)

	decision, err := gate.RequestApproval(ctx, threadID, bashCall("call-1"))
	require.NoError(t, err)
	assert.Equal(t, threads.DecisionAllowOnce, decision)
	assert.True(t, decision.Allowed())
}

func TestEventGate_DecisionUniquePerCall(t *testing.T) {
	ctx := context.Background()
	m, threadID := newTestThread(t)
	gate := NewEventGate(m)

	_, err := m.Append(ctx, threadID, threads.EventToolCall, bashCall("call-1"))
	require.NoError(t, err)
	_, err = gate.Respond(ctx, threadID, "call-1", threads.DecisionDeny)
	require.NoError(t, err)

	_, err = gate.Respond(ctx, threadID, "call-1", threads.DecisionAllowOnce)
	require.Error(t, err, "a second decision for the same call must be rejected")

	decision, err := gate.RequestApproval(ctx, threadID, bashCall("call-1"))
	require.NoError(t, err)
	assert.Equal(t, threads.DecisionDeny, decision)
	assert.False(t, decision.Allowed())
}

func TestEventGate_AllowSessionShortCircuits(t *testing.T) {
	ctx := context.Background()
	m, threadID := newTestThread(t)
	gate := NewEventGate(m)

	_, err := m.Append(ctx, threadID, threads.EventToolCall, bashCall("call-1"))
	require.NoError(t, err)
	_, err = gate.RequestApproval(ctx, threadID, bashCall("call-1"))
	require.ErrorIs(t, err, ErrPending)

	_, err = gate.Respond(ctx, threadID, "call-1", threads.DecisionAllowSession)
	require.NoError(t, err)

	// A different call of the same tool passes without a new request.
	other := threads.ToolCallData{ID: "call-2", Name: "bash", Arguments: map[string]any{"command": "ls"}}
	decision, err := gate.RequestApproval(ctx, threadID, other)
	require.NoError(t, err)
	assert.Equal(t, threads.DecisionAllowSession, decision)

	events, err := m.Events(ctx, threadID)
	require.NoError(t, err)
	for _, ev := range events {
		if ev.Type == threads.EventToolApprovalReq {
			req := ev.Data.(threads.ApprovalRequestData)
			assert.Equal(t, "call-1", req.ToolCallID, "call-2 must not generate a request")
		}
	}
}

// A decision persisted before the agent ever asks (recovery, replay) is
// honoured without re-prompting, even when the replayed call carries a
// different generated id.
func TestEventGate_ReplayedCallMatchesPriorDecision(t *testing.T) {
	ctx := context.Background()
	m, threadID := newTestThread(t)
	gate := NewEventGate(m)

	_, err := m.Append(ctx, threadID, threads.EventToolCall, bashCall("call-original"))
	require.NoError(t, err)
	_, err = m.Append(ctx, threadID, threads.EventToolApprovalResp,
		threads.ApprovalResponseData{ToolCallID: "call-original", Decision: threads.DecisionAllowOnce})
	require.NoError(t, err)

	replayed := bashCall("call-regenerated")
	decision, err := gate.RequestApproval(ctx, threadID, replayed)
	require.NoError(t, err)
	assert.Equal(t, threads.DecisionAllowOnce, decision)
}

func TestPolicyGate(t *testing.T) {
	ctx := context.Background()
	call := bashCall("call-1")

	auto := &PolicyGate{AutoApproveAll: true}
	decision, err := auto.RequestApproval(ctx, "lace_20250115_a1b2c3", call)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())

	nonDestructive := &PolicyGate{
		AllowNonDestructive: true,
		NonDestructive:      func(name string) bool { return name == "file_read" },
	}
	decision, err = nonDestructive.RequestApproval(ctx, "lace_20250115_a1b2c3",
		threads.ToolCallData{ID: "c", Name: "file_read"})
	require.NoError(t, err)
	assert.Equal(t, threads.DecisionAllowOnce, decision)

	// bash is not in the allow list and there is no next gate: denied.
	decision, err = nonDestructive.RequestApproval(ctx, "lace_20250115_a1b2c3", call)
	require.NoError(t, err)
	assert.Equal(t, threads.DecisionDeny, decision)
}
