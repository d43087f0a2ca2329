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

// Package threads implements the append-only conversation log: thread
// identifiers, the event model, durable and in-memory stores, and the
// manager that generates and resumes threads.
package threads

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ThreadID identifies a thread. Canonical form is lace_YYYYMMDD_xxxxxx
// (8-digit date, six lowercase base36 characters). Delegate threads extend
// their parent with dotted numeric suffixes: parent.1, parent.1.2.
type ThreadID string

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var threadIDPattern = regexp.MustCompile(`^lace_\d{8}_[0-9a-z]{6}(\.[1-9]\d*)*$`)

// NewThreadID generates a fresh top-level thread ID for the given time.
func NewThreadID(now time.Time) ThreadID {
	buf := make([]byte, 6)
	// crypto/rand never fails on supported platforms; a short read would
	// leave zero bytes which still map into the alphabet.
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}
	return ThreadID(fmt.Sprintf("lace_%s_%s", now.Format("20060102"), buf))
}

// Valid reports whether id is a well-formed thread ID (top-level or delegate).
func (id ThreadID) Valid() bool {
	return threadIDPattern.MatchString(string(id))
}

// IsDelegate reports whether id names a delegate (child) thread.
func (id ThreadID) IsDelegate() bool {
	return strings.Contains(string(id), ".")
}

// Parent returns the parent thread ID of a delegate, or "" for a top-level id.
func (id ThreadID) Parent() ThreadID {
	i := strings.LastIndex(string(id), ".")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Root returns the top-level ancestor of id.
func (id ThreadID) Root() ThreadID {
	if i := strings.Index(string(id), "."); i >= 0 {
		return id[:i]
	}
	return id
}

// IsDescendantOf reports whether id lives strictly under ancestor
// (ancestor followed by a dotted suffix).
func (id ThreadID) IsDescendantOf(ancestor ThreadID) bool {
	return strings.HasPrefix(string(id), string(ancestor)+".")
}

// Child returns the delegate ID for the n-th child of id.
func (id ThreadID) Child(n int) ThreadID {
	return ThreadID(fmt.Sprintf("%s.%d", id, n))
}

// childIndex extracts the numeric suffix of a direct child of parent.
// Returns -1 if id is not a direct child.
func childIndex(parent, id ThreadID) int {
	rest, ok := strings.CutPrefix(string(id), string(parent)+".")
	if !ok || strings.Contains(rest, ".") {
		return -1
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return -1
	}
	return n
}
