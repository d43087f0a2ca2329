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
	"sync"
	"time"
)

// Manager owns the Store handle and generates thread IDs. It is the only
// component that writes to the store; single-writer-per-thread is enforced
// at the agent layer, not here.
type Manager struct {
	store Store
	mu    sync.Mutex // serializes id generation
}

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store for read paths.
func (m *Manager) Store() Store {
	return m.store
}

// CreateThread generates a fresh unique top-level thread ID and registers it.
func (m *Manager) CreateThread(ctx context.Context) (ThreadID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for range 8 {
		id := NewThreadID(time.Now())
		exists, err := m.store.HasThread(ctx, id)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		if _, err := m.store.CreateThread(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("failed to generate a unique thread id")
}

// CreateDelegateThread scans the sibling set of parent and registers the
// next free .N child.
func (m *Manager) CreateDelegateThread(ctx context.Context, parent ThreadID) (ThreadID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for n := 1; ; n++ {
		id := parent.Child(n)
		exists, err := m.store.HasThread(ctx, id)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		if _, err := m.store.CreateThread(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}
}

// ResumeResult is the outcome of ResumeOrCreate. When the requested thread
// could not be resumed, ThreadID names a fresh thread and ResumeError holds
// a human-readable explanation; resume failures never raise.
type ResumeResult struct {
	ThreadID    ThreadID
	Resumed     bool
	ResumeError string
}

// ResumeOrCreate resumes the named thread if it exists, otherwise creates a
// new one. An empty maybeID resumes the latest stored thread when there is
// one.
func (m *Manager) ResumeOrCreate(ctx context.Context, maybeID string) (ResumeResult, error) {
	if maybeID == "" {
		latest, ok, err := m.store.LatestThreadID(ctx)
		if err != nil {
			return ResumeResult{}, err
		}
		if ok {
			return ResumeResult{ThreadID: latest, Resumed: true}, nil
		}
		id, err := m.CreateThread(ctx)
		if err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{ThreadID: id}, nil
	}

	id := ThreadID(maybeID)
	if !id.Valid() {
		fresh, err := m.CreateThread(ctx)
		if err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{
			ThreadID:    fresh,
			ResumeError: fmt.Sprintf("%q is not a valid thread id; started a new conversation", maybeID),
		}, nil
	}

	exists, err := m.store.HasThread(ctx, id)
	if err != nil {
		return ResumeResult{}, err
	}
	if !exists {
		fresh, err := m.CreateThread(ctx)
		if err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{
			ThreadID:    fresh,
			ResumeError: fmt.Sprintf("thread %q not found; started a new conversation", maybeID),
		}, nil
	}
	return ResumeResult{ThreadID: id, Resumed: true}, nil
}

// Events returns the thread's events, following compaction indirection so
// callers always read the active version of a canonical id.
func (m *Manager) Events(ctx context.Context, id ThreadID) ([]Event, error) {
	active, err := m.store.CanonicalID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.store.Events(ctx, active)
}

// FamilyEvents returns the combined main and delegate events for id's
// active version.
func (m *Manager) FamilyEvents(ctx context.Context, id ThreadID) ([]Event, error) {
	active, err := m.store.CanonicalID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.store.FamilyEvents(ctx, active)
}

// Append appends an event to the active version of id.
func (m *Manager) Append(ctx context.Context, id ThreadID, t EventType, data any) (*Event, error) {
	active, err := m.store.CanonicalID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.store.AppendEvent(ctx, active, t, data)
}
