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

import "sync"

// PriorityHigh marks a message that jumps to the head of the queue.
const PriorityHigh = "high"

// MessageMetadata annotates a queued message.
type MessageMetadata struct {
	Priority string
}

// SendOptions control how SendMessage treats a message when the agent is
// busy.
type SendOptions struct {
	// Queue enqueues the message instead of rejecting it while a turn is
	// in flight.
	Queue    bool
	Metadata MessageMetadata
}

// QueueStats is a snapshot of the queue.
type QueueStats struct {
	QueueLength       int
	HighPriorityCount int
}

type queuedMessage struct {
	text string
	high bool
}

// MessageQueue serializes inbound work for one agent. FIFO, except that
// high-priority messages insert at the head; the head slot holds at most
// the contiguous run of high-priority messages, counted in
// HighPriorityCount.
type MessageQueue struct {
	mu    sync.Mutex
	items []queuedMessage
	high  int
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// Enqueue adds a message and returns the new queue length. High-priority
// messages insert after any high-priority messages already at the head,
// ahead of all normal ones.
func (q *MessageQueue) Enqueue(text string, high bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := queuedMessage{text: text, high: high}
	if high {
		idx := q.high
		q.items = append(q.items, queuedMessage{})
		copy(q.items[idx+1:], q.items[idx:])
		q.items[idx] = msg
		q.high++
	} else {
		q.items = append(q.items, msg)
	}
	return len(q.items)
}

// Dequeue pops the head. The high-priority count decrements as each
// high-priority head is consumed.
func (q *MessageQueue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items = q.items[1:]
	if head.high {
		q.high--
	}
	return head.text, true
}

// Stats returns the current queue snapshot.
func (q *MessageQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		QueueLength:       len(q.items),
		HighPriorityCount: q.high,
	}
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
