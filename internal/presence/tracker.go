package presence

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
)

// Canonical normalizes a user identifier to its canonical string form.
// Identifiers arrive from mixed sources — JSON numbers from the transport,
// strings from the store API — so "42", 42 and 42.0 must all map to "42".
// Non-numeric identifiers are compared as trimmed strings.
func Canonical(id any) string {
	switch v := id.(type) {
	case string:
		return canonicalString(v)
	case json.Number:
		return canonicalString(v.String())
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func canonicalString(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return s
}

// Tracker answers "is peer X online". State is a snapshot wholly replaced on
// every presence frame from the transport; there is no transition history.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	stale  bool
}

// NewTracker creates an empty tracker. Until the first snapshot arrives the
// tracker is stale: every lookup answers offline.
func NewTracker() *Tracker {
	return &Tracker{
		online: make(map[string]struct{}),
		stale:  true,
	}
}

// Replace swaps the entire online set for the given snapshot. Snapshots are
// idempotent; applying the same one twice is harmless.
func (t *Tracker) Replace(ids []any) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if c := Canonical(id); c != "" {
			next[c] = struct{}{}
		}
	}
	t.mu.Lock()
	t.online = next
	t.stale = false
	t.mu.Unlock()
}

// IsOnline reports whether the given user appears in the latest snapshot.
func (t *Tracker) IsOnline(id any) bool {
	c := Canonical(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[c]
	return ok
}

// MarkStale flags the snapshot as untrustworthy. Called on transport loss:
// nothing is guaranteed about peers until the next snapshot arrives.
func (t *Tracker) MarkStale() {
	t.mu.Lock()
	t.stale = true
	t.mu.Unlock()
}

// Stale reports whether the current snapshot predates a disconnect.
func (t *Tracker) Stale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stale
}

// OnlineCount returns the size of the current snapshot.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}
