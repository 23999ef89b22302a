package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lungsom/chatd/internal/api"
	"go.uber.org/zap"
)

// Lookup is the external search collaborator.
type Lookup interface {
	SearchUsers(ctx context.Context, query string) ([]api.User, error)
}

// Results pairs a term with the users it resolved to.
type Results struct {
	Term  string
	Users []api.User
}

// Debouncer wraps the user-search collaborator with a trailing-edge
// debounce: only the request for the latest term is issued, and in-flight
// responses for superseded terms are discarded on arrival rather than
// cancelled at the transport level. Lookup failures degrade to empty
// results; search is never fatal.
type Debouncer struct {
	lookup  Lookup
	delay   time.Duration
	logger  *zap.Logger
	deliver func(term string, users []api.User)

	mu    sync.Mutex
	term  string
	timer *time.Timer
}

// NewDebouncer creates a debouncer that calls deliver with the results for
// the latest queried term.
func NewDebouncer(lookup Lookup, delay time.Duration, logger *zap.Logger, deliver func(term string, users []api.User)) *Debouncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debouncer{
		lookup:  lookup,
		delay:   delay,
		logger:  logger,
		deliver: deliver,
	}
}

// Query registers a keystroke. The lookup fires delay after the last call;
// earlier pending queries are superseded. An empty (post-trim) term clears
// results immediately and issues no request.
func (d *Debouncer) Query(ctx context.Context, term string) {
	term = strings.TrimSpace(term)

	d.mu.Lock()
	d.term = term
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if term == "" {
		d.mu.Unlock()
		d.deliver("", nil)
		return
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.run(ctx, term)
	})
	d.mu.Unlock()
}

func (d *Debouncer) run(ctx context.Context, term string) {
	users, err := d.lookup.SearchUsers(ctx, term)
	if err != nil {
		d.logger.Warn("user search failed", zap.String("term", term), zap.Error(err))
		users = nil
	}

	d.mu.Lock()
	current := d.term
	d.mu.Unlock()
	if current != term {
		// A newer keystroke superseded this request; drop the response.
		return
	}
	d.deliver(term, users)
}

// Flush stops any pending query without delivering. Used on teardown.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.term = ""
}
