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
	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/threads"
)

// State is the agent's position in its turn cycle.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateStreaming     State = "streaming"
	StateToolExecution State = "tool_execution"
)

// AgentEventType names an emission on the agent's event stream.
type AgentEventType string

const (
	EventStateChange             AgentEventType = "state_change"
	EventThinkingStart           AgentEventType = "agent_thinking_start"
	EventThinkingComplete        AgentEventType = "agent_thinking_complete"
	EventToken                   AgentEventType = "agent_token"
	EventResponseComplete        AgentEventType = "agent_response_complete"
	EventConversationComplete    AgentEventType = "conversation_complete"
	EventError                   AgentEventType = "error"
	EventMessageQueued           AgentEventType = "message_queued"
	EventQueueProcessingStart    AgentEventType = "queue_processing_start"
	EventQueueProcessingComplete AgentEventType = "queue_processing_complete"
	EventTokenBudgetWarning      AgentEventType = "token_budget_warning"
	EventRetryStatus             AgentEventType = "retry_status"
	EventApprovalPending         AgentEventType = "approval_pending"
)

// AgentEvent is one record on the agent's event stream. Fields beyond Type
// and ThreadID are populated per event type.
type AgentEvent struct {
	Type     AgentEventType
	ThreadID threads.ThreadID

	// From/To carry state transitions on state_change.
	From State
	To   State

	// Token carries one streamed chunk on agent_token.
	Token string

	// Content carries the full response text on agent_response_complete.
	Content string

	// Err and Phase describe failures on error events.
	Err   string
	Phase string

	// QueueLength accompanies message_queued.
	QueueLength int

	// ToolCallID accompanies approval_pending.
	ToolCallID string

	// Retry carries the per-attempt record on retry_status.
	Retry *llm.RetryStatus

	// Budget carries the accumulator snapshot on token_budget_warning.
	Budget *llm.BudgetStatus
}
