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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory Store used for tests and for graceful
// degradation when the database cannot be opened. Events are lost when the
// process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[ThreadID]*Thread
	events  map[ThreadID][]Event
	shadows map[ThreadID]ThreadID
	lastTS  map[ThreadID]int64
	seq     int64 // global insertion counter, tie-break for merges
	order   map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[ThreadID]*Thread),
		events:  make(map[ThreadID][]Event),
		shadows: make(map[ThreadID]ThreadID),
		lastTS:  make(map[ThreadID]int64),
		order:   make(map[string]int64),
	}
}

// CreateThread registers a new empty thread.
func (s *MemoryStore) CreateThread(_ context.Context, id ThreadID) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateThread, id)
	}
	now := time.Now().UnixMilli()
	t := &Thread{ID: id, CreatedAt: now, UpdatedAt: now}
	s.threads[id] = t
	copied := *t
	return &copied, nil
}

// AppendEvent appends one event.
func (s *MemoryStore) AppendEvent(_ context.Context, threadID ThreadID, t EventType, data any) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	_, decoded, err := encodeData(t, data)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UnixNano()
	if last := s.lastTS[threadID]; ts < last {
		ts = last
	}
	s.lastTS[threadID] = ts

	ev := Event{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Type:      t,
		Timestamp: time.Unix(0, ts),
		Data:      decoded,
	}
	s.seq++
	s.order[ev.ID] = s.seq
	s.events[threadID] = append(s.events[threadID], ev)
	th.UpdatedAt = time.Now().UnixMilli()
	return &ev, nil
}

// Events returns the thread's events in append order.
func (s *MemoryStore) Events(_ context.Context, threadID ThreadID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events[threadID]))
	copy(out, s.events[threadID])
	return out, nil
}

// FamilyEvents returns events of rootID and its delegate descendants,
// merged chronologically with insertion order as tie-break.
func (s *MemoryStore) FamilyEvents(_ context.Context, rootID ThreadID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for id, evs := range s.events {
		if id == rootID || id.IsDescendantOf(rootID) {
			out = append(out, evs...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out, nil
}

// LatestThreadID returns the most recently written top-level thread.
func (s *MemoryStore) LatestThreadID(_ context.Context) (ThreadID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best   *Thread
		found  bool
		bestID ThreadID
	)
	for id, t := range s.threads {
		if id.IsDelegate() {
			continue
		}
		if !found || t.UpdatedAt > best.UpdatedAt ||
			(t.UpdatedAt == best.UpdatedAt && id < bestID) {
			best, bestID, found = t, id, true
		}
	}
	return bestID, found, nil
}

// HasThread reports whether the thread exists.
func (s *MemoryStore) HasThread(_ context.Context, id ThreadID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[id]
	return ok, nil
}

// GetThread returns thread metadata.
func (s *MemoryStore) GetThread(_ context.Context, id ThreadID) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	copied := *t
	return &copied, nil
}

// CanonicalID follows the compaction mapping to the active shadow thread.
func (s *MemoryStore) CanonicalID(_ context.Context, id ThreadID) (ThreadID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := id
	for range 64 {
		shadow, ok := s.shadows[current]
		if !ok {
			return current, nil
		}
		current = shadow
	}
	return current, nil
}

// BindShadow rewires the canonical id to a new shadow thread.
func (s *MemoryStore) BindShadow(_ context.Context, canonical, shadow ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadows[canonical] = shadow
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
