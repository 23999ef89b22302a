package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lungsom/chatd/internal/api"
)

type fakeLookup struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]api.User
	errFor  string
	block   map[string]chan struct{}
}

func (f *fakeLookup) SearchUsers(_ context.Context, query string) ([]api.User, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	block := f.block[query]
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if query == f.errFor {
		return nil, errors.New("lookup down")
	}
	return f.results[query], nil
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type captured struct {
	mu    sync.Mutex
	terms []string
	users [][]api.User
}

func (c *captured) deliver(term string, users []api.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terms = append(c.terms, term)
	c.users = append(c.users, users)
}

func (c *captured) last() (string, []api.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.terms) == 0 {
		return "", nil, false
	}
	return c.terms[len(c.terms)-1], c.users[len(c.users)-1], true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTrailingEdgeDebounce(t *testing.T) {
	lookup := &fakeLookup{results: map[string][]api.User{
		"nitesh": {{ID: "u2", Username: "nitesh"}},
	}}
	cap := &captured{}
	d := NewDebouncer(lookup, 20*time.Millisecond, nil, cap.deliver)

	ctx := context.Background()
	// Rapid keystrokes: only the last term should hit the collaborator.
	d.Query(ctx, "n")
	d.Query(ctx, "ni")
	d.Query(ctx, "nitesh")

	waitFor(t, func() bool { _, _, ok := cap.last(); return ok })

	if got := lookup.callCount(); got != 1 {
		t.Errorf("lookup calls = %d, want 1 (trailing edge only)", got)
	}
	term, users, _ := cap.last()
	if term != "nitesh" || len(users) != 1 {
		t.Errorf("delivered term=%q users=%v", term, users)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	lookup := &fakeLookup{
		results: map[string][]api.User{
			"old": {{ID: "u9", Username: "old-match"}},
			"new": {{ID: "u2", Username: "new-match"}},
		},
		block: map[string]chan struct{}{"old": release},
	}
	cap := &captured{}
	d := NewDebouncer(lookup, 5*time.Millisecond, nil, cap.deliver)

	ctx := context.Background()
	d.Query(ctx, "old")
	// Let the "old" request fire and hang in flight.
	waitFor(t, func() bool { return lookup.callCount() == 1 })

	d.Query(ctx, "new")
	waitFor(t, func() bool { return lookup.callCount() == 2 })
	waitFor(t, func() bool { term, _, ok := cap.last(); return ok && term == "new" })

	// Now the stale response lands; it must be dropped.
	close(release)
	time.Sleep(30 * time.Millisecond)

	term, users, _ := cap.last()
	if term != "new" || users[0].Username != "new-match" {
		t.Errorf("stale response applied: term=%q users=%v", term, users)
	}
}

func TestEmptyTermClearsImmediately(t *testing.T) {
	lookup := &fakeLookup{}
	cap := &captured{}
	d := NewDebouncer(lookup, 20*time.Millisecond, nil, cap.deliver)

	ctx := context.Background()
	d.Query(ctx, "abc")
	d.Query(ctx, "   ")

	term, users, ok := cap.last()
	if !ok {
		t.Fatal("no delivery for empty term")
	}
	if term != "" || users != nil {
		t.Errorf("delivered term=%q users=%v, want cleared", term, users)
	}

	// The superseded "abc" query must never fire.
	time.Sleep(40 * time.Millisecond)
	if got := lookup.callCount(); got != 0 {
		t.Errorf("lookup calls = %d, want 0", got)
	}
}

func TestLookupFailureDegradesToEmpty(t *testing.T) {
	lookup := &fakeLookup{errFor: "boom"}
	cap := &captured{}
	d := NewDebouncer(lookup, 5*time.Millisecond, nil, cap.deliver)

	d.Query(context.Background(), "boom")
	waitFor(t, func() bool { _, _, ok := cap.last(); return ok })

	term, users, _ := cap.last()
	if term != "boom" || users != nil {
		t.Errorf("delivered term=%q users=%v, want empty results", term, users)
	}
}

func TestFlushCancelsPending(t *testing.T) {
	lookup := &fakeLookup{}
	cap := &captured{}
	d := NewDebouncer(lookup, 20*time.Millisecond, nil, cap.deliver)

	d.Query(context.Background(), "abc")
	d.Flush()
	time.Sleep(40 * time.Millisecond)

	if got := lookup.callCount(); got != 0 {
		t.Errorf("lookup calls after flush = %d, want 0", got)
	}
}
