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

package threads

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of record stored in a thread. The set is
// closed: stores persist unknown types verbatim, but projection fails fast
// on them.
type EventType string

const (
	EventUserMessage        EventType = "USER_MESSAGE"
	EventAgentMessage       EventType = "AGENT_MESSAGE"
	EventToolCall           EventType = "TOOL_CALL"
	EventToolResult         EventType = "TOOL_RESULT"
	EventToolApprovalReq    EventType = "TOOL_APPROVAL_REQUEST"
	EventToolApprovalResp   EventType = "TOOL_APPROVAL_RESPONSE"
	EventSystemPrompt       EventType = "SYSTEM_PROMPT"
	EventUserSystemPrompt   EventType = "USER_SYSTEM_PROMPT"
	EventLocalSystemMessage EventType = "LOCAL_SYSTEM_MESSAGE"
	EventCompaction         EventType = "COMPACTION"
)

// KnownEventType reports whether t belongs to the closed event type set.
func KnownEventType(t EventType) bool {
	switch t {
	case EventUserMessage, EventAgentMessage, EventToolCall, EventToolResult,
		EventToolApprovalReq, EventToolApprovalResp, EventSystemPrompt,
		EventUserSystemPrompt, EventLocalSystemMessage, EventCompaction:
		return true
	}
	return false
}

// Event is a single persisted record in a thread. Data holds the typed
// payload for the event type: a string for message events, or one of the
// *Data structs below.
type Event struct {
	ID        string    `json:"id"`
	ThreadID  ThreadID  `json:"threadId"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ContentBlock is a typed block inside a tool result. Only "text" blocks
// exist today; the type tag leaves room for future variants.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolCallData is the payload of a TOOL_CALL event.
type ToolCallData struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ResultStatus is the outcome of a tool execution.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultDenied    ResultStatus = "denied"
)

// ToolResultData is the payload of a TOOL_RESULT event. ID matches the
// TOOL_CALL it answers. Metadata carries tool-specific context such as the
// delegate tool's delegateThreadId.
type ToolResultData struct {
	ID       string         `json:"id"`
	Content  []ContentBlock `json:"content"`
	Status   ResultStatus   `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text concatenates the text blocks of the result.
func (r ToolResultData) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ApprovalRequestData is the payload of a TOOL_APPROVAL_REQUEST event.
type ApprovalRequestData struct {
	ToolCallID string `json:"toolCallId"`
}

// Decision is an approval outcome for a tool call.
type Decision string

const (
	DecisionAllowOnce    Decision = "allow_once"
	DecisionAllowSession Decision = "allow_session"
	DecisionDeny         Decision = "deny"
)

// Allowed reports whether the decision permits execution.
func (d Decision) Allowed() bool {
	return d == DecisionAllowOnce || d == DecisionAllowSession
}

// ApprovalResponseData is the payload of a TOOL_APPROVAL_RESPONSE event.
type ApprovalResponseData struct {
	ToolCallID string   `json:"toolCallId"`
	Decision   Decision `json:"decision"`
}

// CompactionData is the payload of a COMPACTION event. CompactedEvents
// records how many events the shadow thread holds.
type CompactionData struct {
	StrategyID         string   `json:"strategyId"`
	ShadowThreadID     ThreadID `json:"shadowThreadId"`
	OriginalEventCount int      `json:"originalEventCount"`
	CompactedEvents    int      `json:"compactedEvents"`
}

// DecodeEventData converts a raw JSON payload into the typed payload for
// the given event type. Stores use this when materializing rows so every
// reader sees the same Go shapes.
func DecodeEventData(t EventType, raw []byte) (any, error) {
	switch t {
	case EventUserMessage, EventAgentMessage, EventSystemPrompt,
		EventUserSystemPrompt, EventLocalSystemMessage:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return s, nil
	case EventToolCall:
		var d ToolCallData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return d, nil
	case EventToolResult:
		var d ToolResultData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return d, nil
	case EventToolApprovalReq:
		var d ApprovalRequestData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return d, nil
	case EventToolApprovalResp:
		var d ApprovalResponseData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return d, nil
	case EventCompaction:
		var d CompactionData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return d, nil
	default:
		// Unknown types round-trip as raw JSON so nothing is lost.
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}
}
