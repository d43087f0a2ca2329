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

// Package timeline projects thread events into display items. The
// projection is pure: the same event sequence always yields the same
// items, and incremental appends equal a bulk load.
package timeline

import (
	"fmt"
	"time"

	"github.com/teradata-labs/lace/pkg/threads"
)

// ItemKind tags a timeline item variant.
type ItemKind string

const (
	ItemUserMessage   ItemKind = "user_message"
	ItemAgentMessage  ItemKind = "agent_message"
	ItemSystemMessage ItemKind = "system_message"
	ItemToolExecution ItemKind = "tool_execution"
	ItemDelegate      ItemKind = "delegate"
)

// Item is one rendered timeline entry. Exactly the fields for its Kind are
// set; Kind is the discriminator.
type Item struct {
	Kind      ItemKind
	Timestamp time.Time

	// Message kinds. Agent messages keep the raw string including any
	// thinking-block markers; extraction is a UI concern.
	Text string

	// Tool execution: the call, and the result once it arrives.
	Call   *threads.ToolCallData
	Result *threads.ToolResultData

	// Delegate slot: child thread whose events render nested.
	DelegateThreadID threads.ThreadID
}

// Projector incrementally folds events into timeline items. Events from
// delegate threads are grouped into per-thread sub-timelines; the projector
// never fetches delegate events itself, callers feed them explicitly.
type Projector struct {
	root      threads.ThreadID
	items     []*Item
	openCalls map[string]*Item // tool call id -> open tool_execution item
	slots     map[string]*Item // delegate call id -> reserved delegate item
	delegates map[threads.ThreadID]*Projector
}

// NewProjector creates a projector for the given main thread.
func NewProjector(root threads.ThreadID) *Projector {
	return &Projector{
		root:      root,
		openCalls: make(map[string]*Item),
		slots:     make(map[string]*Item),
		delegates: make(map[threads.ThreadID]*Projector),
	}
}

// Append folds one event into the timeline. O(1) amortized. Events of
// unknown type fail fast rather than acquiring invented semantics.
func (p *Projector) Append(ev threads.Event) error {
	if ev.ThreadID != p.root && ev.ThreadID.IsDescendantOf(p.root) {
		return p.appendDelegate(ev)
	}

	switch ev.Type {
	case threads.EventUserMessage:
		text, err := stringData(ev)
		if err != nil {
			return err
		}
		p.items = append(p.items, &Item{Kind: ItemUserMessage, Timestamp: ev.Timestamp, Text: text})

	case threads.EventAgentMessage:
		text, err := stringData(ev)
		if err != nil {
			return err
		}
		p.items = append(p.items, &Item{Kind: ItemAgentMessage, Timestamp: ev.Timestamp, Text: text})

	case threads.EventLocalSystemMessage:
		text, err := stringData(ev)
		if err != nil {
			return err
		}
		p.items = append(p.items, &Item{Kind: ItemSystemMessage, Timestamp: ev.Timestamp, Text: text})

	case threads.EventToolCall:
		call, ok := ev.Data.(threads.ToolCallData)
		if !ok {
			return fmt.Errorf("TOOL_CALL event %s has payload %T", ev.ID, ev.Data)
		}
		item := &Item{Kind: ItemToolExecution, Timestamp: ev.Timestamp, Call: &call}
		p.items = append(p.items, item)
		p.openCalls[call.ID] = item
		if call.Name == "delegate" {
			// Reserve a nested slot; the child thread id arrives with the
			// result, its events separately.
			slot := &Item{Kind: ItemDelegate, Timestamp: ev.Timestamp}
			p.items = append(p.items, slot)
			p.slots[call.ID] = slot
		}

	case threads.EventToolResult:
		result, ok := ev.Data.(threads.ToolResultData)
		if !ok {
			return fmt.Errorf("TOOL_RESULT event %s has payload %T", ev.ID, ev.Data)
		}
		if open, ok := p.openCalls[result.ID]; ok {
			open.Result = &result
			delete(p.openCalls, result.ID)
		}
		if slot, ok := p.slots[result.ID]; ok {
			if id, ok := result.Metadata["delegateThreadId"].(string); ok {
				slot.DelegateThreadID = threads.ThreadID(id)
			}
			delete(p.slots, result.ID)
		}
		// A result without a visible call is tolerated: the call may live
		// in a compacted-away prefix.

	case threads.EventSystemPrompt, threads.EventUserSystemPrompt,
		threads.EventToolApprovalReq, threads.EventToolApprovalResp,
		threads.EventCompaction:
		// Administrative events do not render.

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (p *Projector) appendDelegate(ev threads.Event) error {
	// Route to the sub-projector for the delegate's top ancestor below root.
	id := ev.ThreadID
	for id.Parent() != p.root && id.Parent() != "" {
		id = id.Parent()
	}
	sub, ok := p.delegates[id]
	if !ok {
		sub = NewProjector(id)
		p.delegates[id] = sub
	}
	return sub.Append(ev)
}

// Load folds a full event sequence. O(n).
func (p *Projector) Load(events []threads.Event) error {
	for _, ev := range events {
		if err := p.Append(ev); err != nil {
			return err
		}
	}
	return nil
}

// Items returns the projected items in order.
func (p *Projector) Items() []*Item {
	return p.items
}

// Delegate returns the nested timeline for a delegate thread, if any
// events for it were provided.
func (p *Projector) Delegate(id threads.ThreadID) (*Projector, bool) {
	sub, ok := p.delegates[id]
	return sub, ok
}

// DelegateIDs lists delegate threads with projected events.
func (p *Projector) DelegateIDs() []threads.ThreadID {
	ids := make([]threads.ThreadID, 0, len(p.delegates))
	for id := range p.delegates {
		ids = append(ids, id)
	}
	return ids
}

func stringData(ev threads.Event) (string, error) {
	s, ok := ev.Data.(string)
	if !ok {
		return "", fmt.Errorf("%s event %s has payload %T, want string", ev.Type, ev.ID, ev.Data)
	}
	return s, nil
}
