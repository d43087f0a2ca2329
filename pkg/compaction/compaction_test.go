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

package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// summarizer always answers with a fixed summary and records the transcript
// it was given.
type summarizer struct {
	summary    string
	transcript string
}

func (s *summarizer) CreateResponse(_ context.Context, messages []llm.Message, _ []shuttle.Tool) (*llm.Response, error) {
	if len(messages) > 0 {
		s.transcript = messages[len(messages)-1].Content
	}
	return &llm.Response{Content: s.summary}, nil
}

func (s *summarizer) Name() string         { return "summarizer" }
func (s *summarizer) DefaultModel() string { return "summarizer-1" }

func seedConversation(t *testing.T, m *threads.Manager) threads.ThreadID {
	t.Helper()
	ctx := context.Background()
	id, err := m.CreateThread(ctx)
	require.NoError(t, err)

	appendEvent := func(typ threads.EventType, data any) {
		t.Helper()
		_, err := m.Append(ctx, id, typ, data)
		require.NoError(t, err)
	}
	appendEvent(threads.EventSystemPrompt, "You are helpful.")
	appendEvent(threads.EventUserMessage, "first question")
	appendEvent(threads.EventAgentMessage, "first answer")
	appendEvent(threads.EventToolCall, threads.ToolCallData{ID: "c1", Name: "bash", Arguments: map[string]any{"command": "ls"}})
	appendEvent(threads.EventToolResult, threads.ToolResultData{
		ID:      "c1",
		Content: []threads.ContentBlock{threads.TextBlock(strings.Repeat("output ", 100))},
		Status:  threads.ResultCompleted,
	})
	appendEvent(threads.EventUserMessage, "second question")
	appendEvent(threads.EventAgentMessage, "second answer")
	appendEvent(threads.EventUserMessage, "third question")
	appendEvent(threads.EventAgentMessage, "third answer")
	return id
}

func TestCompactor_UnknownStrategy(t *testing.T) {
	m := threads.NewManager(threads.NewMemoryStore())
	c := NewCompactor(m)
	_, err := c.Compact(context.Background(), "lace_20250115_a1b2c3", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown compaction strategy")
	assert.False(t, c.HasStrategy("nope"))
}

func TestCompactor_EmptyThread(t *testing.T) {
	ctx := context.Background()
	m := threads.NewManager(threads.NewMemoryStore())
	id, err := m.CreateThread(ctx)
	require.NoError(t, err)

	c := NewCompactor(m, &TrimToolResultsStrategy{})
	_, err = c.Compact(ctx, id, "trim-tool-results")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no events")
}

func TestCompactor_TrimRebindsCanonicalID(t *testing.T) {
	ctx := context.Background()
	store := threads.NewMemoryStore()
	m := threads.NewManager(store)
	id := seedConversation(t, m)

	c := NewCompactor(m, &TrimToolResultsStrategy{MaxResultChars: 20})
	result, err := c.Compact(ctx, id, "trim-tool-results")
	require.NoError(t, err)
	assert.Equal(t, 9, result.OriginalEventCount)
	assert.Equal(t, 9, result.CompactedEvents, "trim keeps every conversational event")

	// Reads through the manager now see the shadow.
	events, err := m.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 9)
	for _, ev := range events {
		if ev.Type == threads.EventToolResult {
			r := ev.Data.(threads.ToolResultData)
			assert.True(t, strings.HasSuffix(r.Text(), "... [trimmed]"))
			assert.LessOrEqual(t, len(r.Text()), 20+len("... [trimmed]"))
			assert.Equal(t, threads.ResultCompleted, r.Status, "status survives trimming")
		}
	}

	// The original history is intact and ends with the COMPACTION record.
	original, err := store.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, original, 10)
	last := original[len(original)-1]
	require.Equal(t, threads.EventCompaction, last.Type)
	data := last.Data.(threads.CompactionData)
	assert.Equal(t, "trim-tool-results", data.StrategyID)
	assert.Equal(t, result.ShadowThreadID, data.ShadowThreadID)
	assert.Equal(t, 9, data.OriginalEventCount)
}

func TestCompactor_CompactTwiceChains(t *testing.T) {
	ctx := context.Background()
	m := threads.NewManager(threads.NewMemoryStore())
	id := seedConversation(t, m)

	c := NewCompactor(m, &TrimToolResultsStrategy{MaxResultChars: 50})
	first, err := c.Compact(ctx, id, "trim-tool-results")
	require.NoError(t, err)

	// New conversation lands in the first shadow; compacting again works on
	// the shadow's events and rebinds once more.
	_, err = m.Append(ctx, id, threads.EventUserMessage, "and another thing")
	require.NoError(t, err)

	second, err := c.Compact(ctx, id, "trim-tool-results")
	require.NoError(t, err)
	assert.NotEqual(t, first.ShadowThreadID, second.ShadowThreadID)
	assert.Equal(t, 10, second.OriginalEventCount)

	events, err := m.Events(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "and another thing", events[len(events)-1].Data)
}

func TestSummarizeStrategy(t *testing.T) {
	ctx := context.Background()
	m := threads.NewManager(threads.NewMemoryStore())
	id := seedConversation(t, m)

	provider := &summarizer{summary: "User asked two questions; both answered."}
	c := NewCompactor(m, &SummarizeStrategy{Provider: provider})
	require.True(t, c.HasStrategy("summarize"))

	result, err := c.Compact(ctx, id, "summarize")
	require.NoError(t, err)
	assert.Equal(t, 9, result.OriginalEventCount)

	events, err := m.Events(ctx, id)
	require.NoError(t, err)
	types := make([]threads.EventType, len(events))
	var texts []string
	for i, ev := range events {
		types[i] = ev.Type
		if s, ok := ev.Data.(string); ok {
			texts = append(texts, s)
		}
	}

	// System prompt carried, then the summary, then the last two user turns
	// verbatim.
	assert.Equal(t, []threads.EventType{
		threads.EventSystemPrompt,
		threads.EventAgentMessage, // the summary
		threads.EventUserMessage,
		threads.EventAgentMessage,
		threads.EventUserMessage,
		threads.EventAgentMessage,
	}, types)
	assert.Equal(t, "[conversation summary] User asked two questions; both answered.", texts[1])
	assert.Equal(t, "second question", texts[2])

	// The summarized prefix reached the provider as a transcript.
	assert.Contains(t, provider.transcript, "first question")
	assert.Contains(t, provider.transcript, "Tool result")
	assert.NotContains(t, provider.transcript, "second question")
}

func TestSummarizeStrategy_RequiresProvider(t *testing.T) {
	s := &SummarizeStrategy{}
	_, err := s.Compact(context.Background(), []threads.Event{{Type: threads.EventUserMessage, Data: "x"}})
	require.Error(t, err)
}
