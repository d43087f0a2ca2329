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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mutecomm/go-sqlcipher/v4" // Auto-registers as "sqlite3"
)

// DBConfig holds database configuration including optional encryption.
type DBConfig struct {
	// Path to the SQLite database file.
	Path string

	// EncryptDatabase enables SQLCipher encryption at rest.
	// When true, requires EncryptionKey (or LACE_DB_KEY).
	EncryptDatabase bool

	// EncryptionKey is the SQLCipher key. Falls back to LACE_DB_KEY.
	EncryptionKey string
}

// SQLiteStore is the durable Store backed by SQLite (SQLCipher driver, so
// encrypted and unencrypted databases use the same code path).
type SQLiteStore struct {
	db *sql.DB

	// lastTS enforces monotone non-decreasing timestamps per thread for
	// the lifetime of this handle; persisted rows seed it lazily.
	mu     sync.Mutex
	lastTS map[ThreadID]int64
}

// NewSQLiteStore opens (and migrates) the store at cfg.Path.
func NewSQLiteStore(cfg DBConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.EncryptDatabase {
		key := cfg.EncryptionKey
		if key == "" {
			key = os.Getenv("LACE_DB_KEY")
		}
		if key == "" {
			_ = db.Close()
			return nil, fmt.Errorf("database encryption enabled but no key provided (set LACE_DB_KEY)")
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA key = %q", key)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set encryption key: %w", err)
		}
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, lastTS: make(map[ThreadID]int64)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		data TEXT NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS compaction_map (
		canonical_id TEXT PRIMARY KEY,
		shadow_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateThread registers a new empty thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, id ThreadID) (*Thread, error) {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)", string(id), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateThread, id)
		}
		return nil, fmt.Errorf("failed to create thread %s: %w", id, err)
	}
	return &Thread{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

// nextTimestamp assigns a timestamp that never goes backwards within the
// thread, seeding from the stored maximum on first touch.
func (s *SQLiteStore) nextTimestamp(ctx context.Context, threadID ThreadID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastTS[threadID]
	if !ok {
		var maxTS sql.NullInt64
		row := s.db.QueryRowContext(ctx,
			"SELECT MAX(timestamp) FROM events WHERE thread_id = ?", string(threadID))
		if err := row.Scan(&maxTS); err == nil && maxTS.Valid {
			last = maxTS.Int64
		}
	}

	ts := time.Now().UnixNano()
	if ts < last {
		ts = last
	}
	s.lastTS[threadID] = ts
	return ts
}

// AppendEvent appends one event atomically.
func (s *SQLiteStore) AppendEvent(ctx context.Context, threadID ThreadID, t EventType, data any) (*Event, error) {
	ok, err := s.HasThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	raw, decoded, err := encodeData(t, data)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ts := s.nextTimestamp(ctx, threadID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events (id, thread_id, type, timestamp, data) VALUES (?, ?, ?, ?, ?)",
		id, string(threadID), string(t), ts, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE threads SET updated_at = ? WHERE id = ?", time.Now().UnixMilli(), string(threadID)); err != nil {
		return nil, fmt.Errorf("failed to touch thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}

	return &Event{
		ID:        id,
		ThreadID:  threadID,
		Type:      t,
		Timestamp: time.Unix(0, ts),
		Data:      decoded,
	}, nil
}

func (s *SQLiteStore) scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			id, threadID, typ, raw string
			ts                     int64
		)
		if err := rows.Scan(&id, &threadID, &typ, &ts, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		data, err := DecodeEventData(EventType(typ), []byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, Event{
			ID:        id,
			ThreadID:  ThreadID(threadID),
			Type:      EventType(typ),
			Timestamp: time.Unix(0, ts),
			Data:      data,
		})
	}
	return out, rows.Err()
}

// Events returns the thread's events in append order.
func (s *SQLiteStore) Events(ctx context.Context, threadID ThreadID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, thread_id, type, timestamp, data FROM events WHERE thread_id = ? ORDER BY timestamp, rowid",
		string(threadID))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanEvents(rows)
}

// FamilyEvents returns events of rootID and all its delegate descendants,
// merged chronologically.
func (s *SQLiteStore) FamilyEvents(ctx context.Context, rootID ThreadID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, type, timestamp, data FROM events
		 WHERE thread_id = ? OR thread_id LIKE ? ESCAPE '\'
		 ORDER BY timestamp, rowid`,
		string(rootID), likeEscape(string(rootID))+".%")
	if err != nil {
		return nil, fmt.Errorf("failed to query family events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanEvents(rows)
}

func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// LatestThreadID returns the most recently written top-level thread.
func (s *SQLiteStore) LatestThreadID(ctx context.Context) (ThreadID, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id FROM threads WHERE id NOT LIKE '%.%' ORDER BY updated_at DESC, created_at DESC, id LIMIT 1")
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query latest thread: %w", err)
	}
	return ThreadID(id), true, nil
}

// HasThread reports whether the thread exists.
func (s *SQLiteStore) HasThread(ctx context.Context, id ThreadID) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT 1 FROM threads WHERE id = ?", string(id))
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query thread: %w", err)
	}
	return true, nil
}

// GetThread returns thread metadata.
func (s *SQLiteStore) GetThread(ctx context.Context, id ThreadID) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, updated_at FROM threads WHERE id = ?", string(id))
	var t Thread
	var tid string
	if err := row.Scan(&tid, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
		}
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	t.ID = ThreadID(tid)
	return &t, nil
}

// CanonicalID follows the compaction mapping to the active shadow thread.
func (s *SQLiteStore) CanonicalID(ctx context.Context, id ThreadID) (ThreadID, error) {
	current := id
	// Follow chains (a shadow can itself be compacted); bounded to avoid
	// a corrupted map looping forever.
	for range 64 {
		row := s.db.QueryRowContext(ctx,
			"SELECT shadow_id FROM compaction_map WHERE canonical_id = ?", string(current))
		var shadow string
		if err := row.Scan(&shadow); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return current, nil
			}
			return "", fmt.Errorf("failed to resolve canonical id: %w", err)
		}
		current = ThreadID(shadow)
	}
	return current, nil
}

// BindShadow rewires the canonical id to a new shadow thread.
func (s *SQLiteStore) BindShadow(ctx context.Context, canonical, shadow ThreadID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compaction_map (canonical_id, shadow_id) VALUES (?, ?)
		 ON CONFLICT(canonical_id) DO UPDATE SET shadow_id = excluded.shadow_id`,
		string(canonical), string(shadow))
	if err != nil {
		return fmt.Errorf("failed to bind shadow thread: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
