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
// Package pubsub provides typed event publish/subscribe primitives.
package pubsub

import (
	"context"
	"sync"
)

// EventType represents the type of event.
type EventType int

const (
	// CreatedEvent indicates a new item was created.
	CreatedEvent EventType = iota
	// UpdatedEvent indicates an existing item was updated.
	UpdatedEvent
	// DeletedEvent indicates an item was deleted.
	DeletedEvent
)

// Event wraps an event with type information.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// NewCreatedEvent creates a new "created" event.
func NewCreatedEvent[T any](payload T) Event[T] {
	return Event[T]{Type: CreatedEvent, Payload: payload}
}

// NewUpdatedEvent creates a new "updated" event.
func NewUpdatedEvent[T any](payload T) Event[T] {
	return Event[T]{Type: UpdatedEvent, Payload: payload}
}

// NewDeletedEvent creates a new "deleted" event.
func NewDeletedEvent[T any](payload T) Event[T] {
	return Event[T]{Type: DeletedEvent, Payload: payload}
}

const defaultChannelBuffer = 64

// Broker fans events out to context-scoped subscribers. Subscriptions are
// removed automatically when the subscriber's context is cancelled. Publish
// never blocks: a buffered subscriber whose channel is full misses the
// event; unbounded subscribers queue in memory and never miss one.
type Broker[T any] struct {
	mu        sync.RWMutex
	subs      map[chan Event[T]]struct{}
	unbounded map[*unboundedSub[T]]struct{}
	done      bool
}

// unboundedSub buffers events in a slice a pump goroutine drains, so
// Publish stays non-blocking without a drop.
type unboundedSub[T any] struct {
	mu     sync.Mutex
	queue  []Event[T]
	closed bool
	wake   chan struct{} // 1-buffered
}

// NewBroker creates a new event broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs:      make(map[chan Event[T]]struct{}),
		unbounded: make(map[*unboundedSub[T]]struct{}),
	}
}

// Subscribe returns a channel that receives events until ctx is cancelled
// or the broker is shut down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], defaultChannelBuffer)

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()

	return ch
}

// SubscribeUnbounded returns a channel that receives every event published
// after the call, in order, until ctx is cancelled or the broker shuts
// down. Events queue in memory while the subscriber is slow; use this for
// consumers whose control flow depends on seeing every event.
func (b *Broker[T]) SubscribeUnbounded(ctx context.Context) <-chan Event[T] {
	out := make(chan Event[T])
	s := &unboundedSub[T]{wake: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		close(out)
		return out
	}
	b.unbounded[s] = struct{}{}
	b.mu.Unlock()

	forget := func() {
		b.mu.Lock()
		delete(b.unbounded, s)
		b.mu.Unlock()
	}

	go func() {
		defer close(out)
		for {
			s.mu.Lock()
			if len(s.queue) > 0 {
				ev := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()
				select {
				case out <- ev:
					continue
				case <-ctx.Done():
					forget()
					return
				}
			}
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				forget()
				return
			case <-s.wake:
			}
		}
	}()

	return out
}

// Publish sends an event to all current subscribers.
func (b *Broker[T]) Publish(t EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.done {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- Event[T]{Type: t, Payload: payload}:
		default:
		}
	}
	for s := range b.unbounded {
		s.mu.Lock()
		s.queue = append(s.queue, Event[T]{Type: t, Payload: payload})
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs) + len(b.unbounded)
}

// Shutdown closes all subscriber channels and rejects new subscriptions.
// Unbounded subscribers still receive events queued before the shutdown.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	for s := range b.unbounded {
		delete(b.unbounded, s)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}
