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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(q *MessageQueue) []string {
	var out []string
	for {
		msg, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func TestMessageQueue_FIFO(t *testing.T) {
	q := NewMessageQueue()
	assert.Equal(t, 1, q.Enqueue("one", false))
	assert.Equal(t, 2, q.Enqueue("two", false))
	assert.Equal(t, 3, q.Enqueue("three", false))

	assert.Equal(t, []string{"one", "two", "three"}, drain(q))

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestMessageQueue_HighPriorityJumpsQueue(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue("first", false)
	q.Enqueue("second", false)
	q.Enqueue("third", false)
	q.Enqueue("URGENT", true)

	stats := q.Stats()
	assert.Equal(t, 4, stats.QueueLength)
	assert.Equal(t, 1, stats.HighPriorityCount)

	head, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "URGENT", head)

	stats = q.Stats()
	assert.Equal(t, 3, stats.QueueLength)
	assert.Equal(t, 0, stats.HighPriorityCount, "consuming the high head decrements the count")

	assert.Equal(t, []string{"first", "second", "third"}, drain(q))
}

func TestMessageQueue_HighPriorityKeepsRelativeOrder(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue("normal-1", false)
	q.Enqueue("urgent-1", true)
	q.Enqueue("urgent-2", true)
	q.Enqueue("normal-2", false)

	// A later high message lands after the high run at the head, never ahead
	// of earlier high messages.
	assert.Equal(t, []string{"urgent-1", "urgent-2", "normal-1", "normal-2"}, drain(q))
}

func TestMessageQueue_InterleavedDequeue(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue("urgent-1", true)
	head, _ := q.Dequeue()
	assert.Equal(t, "urgent-1", head)

	q.Enqueue("normal-1", false)
	q.Enqueue("urgent-2", true)

	stats := q.Stats()
	assert.Equal(t, 2, stats.QueueLength)
	assert.Equal(t, 1, stats.HighPriorityCount)

	assert.Equal(t, []string{"urgent-2", "normal-1"}, drain(q))
	assert.Zero(t, q.Len())
}
