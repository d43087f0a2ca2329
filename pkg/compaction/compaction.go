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

// Package compaction rewrites a conversation into fewer tokens. History is
// never edited in place: a strategy produces the events of a new shadow
// thread, and the canonical id is rebound to it. The original thread keeps
// everything, plus a COMPACTION event recording what happened.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/threads"
)

// CompactedEvent is one event of the shadow thread a strategy produces.
type CompactedEvent struct {
	Type threads.EventType
	Data any
}

// Strategy turns a thread's events into a shorter equivalent.
type Strategy interface {
	// ID names the strategy in COMPACTION events.
	ID() string

	// Compact produces the shadow thread's events.
	Compact(ctx context.Context, events []threads.Event) ([]CompactedEvent, error)
}

// Compactor applies a strategy to a thread and rebinds its canonical id.
type Compactor struct {
	manager    *threads.Manager
	strategies map[string]Strategy
}

// NewCompactor creates a compactor with the given strategies registered.
func NewCompactor(manager *threads.Manager, strategies ...Strategy) *Compactor {
	c := &Compactor{
		manager:    manager,
		strategies: make(map[string]Strategy),
	}
	for _, s := range strategies {
		c.strategies[s.ID()] = s
	}
	return c
}

// Result describes a completed compaction.
type Result struct {
	ShadowThreadID     threads.ThreadID
	OriginalEventCount int
	CompactedEvents    int
}

// Compact runs the named strategy over the thread's active events, creates
// the shadow thread, appends the COMPACTION record to the original, and
// rebinds the canonical id. Subsequent reads through the manager see the
// shadow's events.
func (c *Compactor) Compact(ctx context.Context, threadID threads.ThreadID, strategyID string) (*Result, error) {
	strategy, ok := c.strategies[strategyID]
	if !ok {
		return nil, fmt.Errorf("unknown compaction strategy: %s", strategyID)
	}

	store := c.manager.Store()
	active, err := store.CanonicalID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	events, err := store.Events(ctx, active)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("thread %s has no events to compact", threadID)
	}

	compacted, err := strategy.Compact(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("strategy %s failed: %w", strategyID, err)
	}

	shadowID, err := c.manager.CreateThread(ctx)
	if err != nil {
		return nil, err
	}
	for _, ev := range compacted {
		if _, err := store.AppendEvent(ctx, shadowID, ev.Type, ev.Data); err != nil {
			return nil, fmt.Errorf("append to shadow thread: %w", err)
		}
	}

	// Record on the original before rebinding so the COMPACTION event lands
	// in the pre-compaction history, not the shadow.
	if _, err := store.AppendEvent(ctx, active, threads.EventCompaction, threads.CompactionData{
		StrategyID:         strategyID,
		ShadowThreadID:     shadowID,
		OriginalEventCount: len(events),
		CompactedEvents:    len(compacted),
	}); err != nil {
		return nil, err
	}

	if err := store.BindShadow(ctx, threadID, shadowID); err != nil {
		return nil, err
	}

	zap.L().Info("thread compacted",
		zap.String("thread", string(threadID)),
		zap.String("shadow", string(shadowID)),
		zap.String("strategy", strategyID),
		zap.Int("original_events", len(events)),
		zap.Int("compacted_events", len(compacted)))

	return &Result{
		ShadowThreadID:     shadowID,
		OriginalEventCount: len(events),
		CompactedEvents:    len(compacted),
	}, nil
}

// HasStrategy reports whether the named strategy is registered.
func (c *Compactor) HasStrategy(id string) bool {
	_, ok := c.strategies[id]
	return ok
}

// defaultRecentUserTurns is how many trailing user turns a summary keeps
// verbatim.
const defaultRecentUserTurns = 2

// SummarizeStrategy collapses all but the most recent turns into a single
// AGENT_MESSAGE produced by the provider.
type SummarizeStrategy struct {
	Provider llm.Provider

	// RecentUserTurns overrides how many trailing user turns survive
	// verbatim. Zero means the default of 2.
	RecentUserTurns int
}

// ID implements Strategy.
func (s *SummarizeStrategy) ID() string {
	return "summarize"
}

// Compact implements Strategy.
func (s *SummarizeStrategy) Compact(ctx context.Context, events []threads.Event) ([]CompactedEvent, error) {
	if s.Provider == nil {
		return nil, fmt.Errorf("summarize strategy requires a provider")
	}

	keep := s.RecentUserTurns
	if keep <= 0 {
		keep = defaultRecentUserTurns
	}
	cut := splitAtRecentTurns(events, keep)

	head, tail := events[:cut], events[cut:]
	out := carrySystemPrompts(head)

	if len(head) > 0 {
		transcript := renderTranscript(head)
		resp, err := s.Provider.CreateResponse(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: "You compress conversation history. Summarize the transcript " +
				"below into a single dense paragraph preserving every fact, decision, file path, and " +
				"command output the assistant may need later. Do not add commentary."},
			{Role: llm.RoleUser, Content: transcript},
		}, nil)
		if err != nil {
			return nil, err
		}
		summary := strings.TrimSpace(resp.Content)
		if summary != "" {
			out = append(out, CompactedEvent{
				Type: threads.EventAgentMessage,
				Data: "[conversation summary] " + summary,
			})
		}
	}

	out = append(out, carryConversation(tail)...)
	return out, nil
}

// TrimToolResultsStrategy shortens history without a provider by truncating
// tool result payloads, keeping the conversational turns intact.
type TrimToolResultsStrategy struct {
	// MaxResultChars caps each tool result's text. Zero means 200.
	MaxResultChars int
}

// ID implements Strategy.
func (s *TrimToolResultsStrategy) ID() string {
	return "trim-tool-results"
}

// Compact implements Strategy.
func (s *TrimToolResultsStrategy) Compact(_ context.Context, events []threads.Event) ([]CompactedEvent, error) {
	maxChars := s.MaxResultChars
	if maxChars <= 0 {
		maxChars = 200
	}

	var out []CompactedEvent
	for _, ev := range events {
		switch ev.Type {
		case threads.EventToolResult:
			result, ok := ev.Data.(threads.ToolResultData)
			if !ok {
				out = append(out, CompactedEvent{Type: ev.Type, Data: ev.Data})
				continue
			}
			text := result.Text()
			if len(text) > maxChars {
				text = text[:maxChars] + "... [trimmed]"
			}
			out = append(out, CompactedEvent{Type: ev.Type, Data: threads.ToolResultData{
				ID:       result.ID,
				Content:  []threads.ContentBlock{threads.TextBlock(text)},
				Status:   result.Status,
				Metadata: result.Metadata,
			}})
		case threads.EventCompaction, threads.EventToolApprovalReq, threads.EventToolApprovalResp:
			// Administrative records do not carry into the shadow.
		default:
			out = append(out, CompactedEvent{Type: ev.Type, Data: ev.Data})
		}
	}
	return out, nil
}

// splitAtRecentTurns returns the index of the first event belonging to the
// trailing `keep` user turns. Everything before it gets summarized.
func splitAtRecentTurns(events []threads.Event, keep int) int {
	seen := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == threads.EventUserMessage {
			seen++
			if seen == keep {
				return i
			}
		}
	}
	return 0
}

// carrySystemPrompts lifts system prompt events out of the head so the
// shadow thread keeps the agent's instructions.
func carrySystemPrompts(events []threads.Event) []CompactedEvent {
	var out []CompactedEvent
	for _, ev := range events {
		if ev.Type == threads.EventSystemPrompt || ev.Type == threads.EventUserSystemPrompt {
			out = append(out, CompactedEvent{Type: ev.Type, Data: ev.Data})
		}
	}
	return out
}

// carryConversation copies the conversational tail, dropping administrative
// records that must not survive into the shadow.
func carryConversation(events []threads.Event) []CompactedEvent {
	var out []CompactedEvent
	for _, ev := range events {
		switch ev.Type {
		case threads.EventCompaction, threads.EventToolApprovalReq, threads.EventToolApprovalResp:
		default:
			out = append(out, CompactedEvent{Type: ev.Type, Data: ev.Data})
		}
	}
	return out
}

// renderTranscript flattens events into plain text for the summarizer.
func renderTranscript(events []threads.Event) string {
	var b strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case threads.EventUserMessage:
			if s, ok := ev.Data.(string); ok {
				fmt.Fprintf(&b, "User: %s\n", s)
			}
		case threads.EventAgentMessage:
			if s, ok := ev.Data.(string); ok {
				fmt.Fprintf(&b, "Assistant: %s\n", s)
			}
		case threads.EventToolCall:
			if call, ok := ev.Data.(threads.ToolCallData); ok {
				fmt.Fprintf(&b, "Tool call %s: %v\n", call.Name, call.Arguments)
			}
		case threads.EventToolResult:
			if result, ok := ev.Data.(threads.ToolResultData); ok {
				fmt.Fprintf(&b, "Tool result (%s): %s\n", result.Status, result.Text())
			}
		}
	}
	return b.String()
}
