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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Thread is the stored metadata for one event sequence.
type Thread struct {
	ID        ThreadID
	CreatedAt int64 // unix milliseconds
	UpdatedAt int64
}

var (
	// ErrDuplicateThread is returned by CreateThread when the id exists.
	ErrDuplicateThread = errors.New("thread already exists")
	// ErrThreadNotFound is returned when an operation names an unknown thread.
	ErrThreadNotFound = errors.New("thread not found")
)

// Store is the append-only persistence contract for threads and events.
// Appends are atomic per event; reads are ordered by timestamp then
// insertion and are deterministic across calls.
type Store interface {
	// CreateThread registers a new empty thread.
	CreateThread(ctx context.Context, id ThreadID) (*Thread, error)

	// AppendEvent appends one event, assigning a stable id and a timestamp
	// that is monotone non-decreasing within the thread.
	AppendEvent(ctx context.Context, threadID ThreadID, t EventType, data any) (*Event, error)

	// Events returns the thread's events in append order.
	Events(ctx context.Context, threadID ThreadID) ([]Event, error)

	// FamilyEvents returns the events of rootID and of every thread whose id
	// extends rootID with a dotted suffix, merged chronologically.
	FamilyEvents(ctx context.Context, rootID ThreadID) ([]Event, error)

	// LatestThreadID returns the most recently written top-level thread.
	LatestThreadID(ctx context.Context) (ThreadID, bool, error)

	// HasThread reports whether the thread exists.
	HasThread(ctx context.Context, id ThreadID) (bool, error)

	// GetThread returns thread metadata, or ErrThreadNotFound.
	GetThread(ctx context.Context, id ThreadID) (*Thread, error)

	// CanonicalID follows compaction indirection from a canonical id to the
	// currently active shadow thread. Identity when no compaction happened.
	CanonicalID(ctx context.Context, id ThreadID) (ThreadID, error)

	// BindShadow rewires the canonical id to a new shadow thread.
	BindShadow(ctx context.Context, canonical, shadow ThreadID) error

	Close() error
}

// encodeData round-trips an event payload through JSON so that stores hold
// the wire form and every reader materializes identical Go shapes.
func encodeData(t EventType, data any) ([]byte, any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	decoded, err := DecodeEventData(t, raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, decoded, nil
}

// DefaultDBPath resolves the store location: LACE_DB_PATH wins, otherwise
// $LACE_DIR/lace.db, otherwise ~/.lace/lace.db.
func DefaultDBPath() string {
	if p := os.Getenv("LACE_DB_PATH"); p != "" {
		return p
	}
	dir := os.Getenv("LACE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".lace")
	}
	return filepath.Join(dir, "lace.db")
}

// OpenDefault opens the SQLite store at the default path, degrading to an
// in-memory store when the database cannot be opened. The session keeps
// working either way; with the in-memory fallback new events are lost on
// exit.
func OpenDefault() Store {
	path := DefaultDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		zap.L().Warn("persistence unavailable, continuing in memory",
			zap.String("path", path), zap.Error(err))
		return NewMemoryStore()
	}
	cfg := DBConfig{Path: path}
	if key := os.Getenv("LACE_DB_KEY"); key != "" {
		cfg.EncryptDatabase = true
		cfg.EncryptionKey = key
	}
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		zap.L().Warn("persistence unavailable, continuing in memory",
			zap.String("path", path), zap.Error(err))
		return NewMemoryStore()
	}
	return store
}
