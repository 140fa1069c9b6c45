// Package chat keeps per-session conversation transcripts, bounded both
// per session (trailing turns) and across sessions (LRU eviction).
package chat

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Defaults when the corresponding cap is <= 0.
const (
	DefaultTurnCap    = 20
	DefaultSessionCap = 10000
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one transcript line.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type session struct {
	entries []Entry
}

// Sessions maps opaque session ids to bounded transcripts. All methods are
// safe for concurrent use.
type Sessions struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *session]
	turnCap int
}

// NewSessions builds the session map with the given caps (defaults applied
// when <= 0).
func NewSessions(sessionCap, turnCap int) (*Sessions, error) {
	if sessionCap <= 0 {
		sessionCap = DefaultSessionCap
	}
	if turnCap <= 0 {
		turnCap = DefaultTurnCap
	}
	var cache, err = lru.NewWithEvict[string, *session](sessionCap,
		func(string, *session) { evictionsTotal.Inc() })
	if err != nil {
		return nil, fmt.Errorf("building session cache: %w", err)
	}
	return &Sessions{cache: cache, turnCap: turnCap}, nil
}

// Append adds one entry to the session, creating it on first use. The
// transcript keeps only the trailing turn-cap entries.
func (c *Sessions) Append(id string, role Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s, ok = c.cache.Get(id)
	if !ok {
		s = &session{}
		c.cache.Add(id, s)
	}
	s.entries = append(s.entries, Entry{Role: role, Content: content})
	if len(s.entries) > c.turnCap {
		var trimmed = make([]Entry, c.turnCap)
		copy(trimmed, s.entries[len(s.entries)-c.turnCap:])
		s.entries = trimmed
	}
	sessionsGauge.Set(float64(c.cache.Len()))
}

// History returns a copy of the session transcript, oldest first, or nil
// for an unknown session. Reading refreshes the session's LRU recency.
func (c *Sessions) History(id string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s, ok = c.cache.Get(id)
	if !ok {
		return nil
	}
	var out = make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports the number of live sessions.
func (c *Sessions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
