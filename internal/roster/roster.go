package roster

import (
	"sync"
	"time"

	"github.com/lungsom/chatd/internal/presence"
)

// Conversation is one entry in the ordered conversation list.
type Conversation struct {
	ID           string
	PeerID       string
	PeerName     string
	PeerAvatar   string
	Preview      string
	LastActivity time.Time
	Unread       int
}

// DisplayName returns the peer's name, falling back to the peer id until
// profile data arrives from the external profile collaborator.
func (c Conversation) DisplayName() string {
	if c.PeerName != "" {
		return c.PeerName
	}
	return c.PeerID
}

// placeholderID derives a conversation id for a peer we have not yet seen a
// server-side conversation record for.
func placeholderID(peerID string) string {
	return "peer:" + peerID
}

// Roster is the single source of truth for conversation ordering, previews
// and unread counts. It is an ordered map keyed by conversation id: order is
// last-activity descending, and any mutation moves only the touched
// conversation to the head, leaving the relative order of all others intact.
type Roster struct {
	mu     sync.Mutex
	byID   map[string]*Conversation
	byPeer map[string]string // canonical peer id -> conversation id
	order  []string          // head = most recently active
	active string
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{
		byID:   make(map[string]*Conversation),
		byPeer: make(map[string]string),
	}
}

// resolvePeer returns the conversation for the given peer, synthesizing a
// placeholder when absent. Caller holds the lock.
func (r *Roster) resolvePeer(peerID string) *Conversation {
	canon := presence.Canonical(peerID)
	if id, ok := r.byPeer[canon]; ok {
		return r.byID[id]
	}
	c := &Conversation{
		ID:     placeholderID(canon),
		PeerID: canon,
	}
	r.byID[c.ID] = c
	r.byPeer[canon] = c.ID
	r.order = append(r.order, c.ID)
	return c
}

// moveToHead promotes id to the front of the order, preserving the relative
// order of every other conversation. Caller holds the lock.
func (r *Roster) moveToHead(id string) {
	for i, v := range r.order {
		if v == id {
			copy(r.order[1:i+1], r.order[:i])
			r.order[0] = id
			return
		}
	}
}

// ApplyInbound folds an inbound message into the list. When the conversation
// is not the active selection its unread counter increments; when it is, the
// counter stays at zero and markSeen reports that the caller should emit a
// mark-seen instruction (read receipts come from the viewer's client).
func (r *Roster) ApplyInbound(peerID, text string, at time.Time) (conv Conversation, markSeen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.resolvePeer(peerID)
	c.Preview = text
	c.LastActivity = at
	if c.ID == r.active {
		markSeen = true
	} else {
		c.Unread++
	}
	r.moveToHead(c.ID)
	return *c, markSeen
}

// ApplyLocalSend folds a local send into the list. Sending implies the
// thread is caught up, so unread resets to zero; the timestamp is the
// client-observed time and a later store confirmation does not re-stamp it.
func (r *Roster) ApplyLocalSend(peerID, text string, at time.Time) Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.resolvePeer(peerID)
	c.Preview = text
	c.LastActivity = at
	c.Unread = 0
	r.moveToHead(c.ID)
	return *c
}

// ApplyBulk seeds the list from a recent-conversations fetch. Server-known
// fields replace placeholder state; entries are ordered by last activity.
// The active selection and its zeroed unread count survive a resync.
func (r *Roster) ApplyBulk(summaries []Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range summaries {
		canon := presence.Canonical(s.PeerID)
		c := r.resolvePeer(canon)
		r.adoptID(c, s.ID)
		if s.PeerName != "" {
			c.PeerName = s.PeerName
		}
		if s.PeerAvatar != "" {
			c.PeerAvatar = s.PeerAvatar
		}
		if s.LastActivity.After(c.LastActivity) {
			c.Preview = s.Preview
			c.LastActivity = s.LastActivity
		}
		if c.ID != r.active {
			c.Unread = s.Unread
		}
	}
	r.sortByActivity()
}

// AdoptID re-keys a placeholder conversation to its durable server id once
// the store's get-or-create response arrives.
func (r *Roster) AdoptID(peerID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.resolvePeer(peerID)
	r.adoptID(c, conversationID)
}

func (r *Roster) adoptID(c *Conversation, id string) {
	if id == "" || c.ID == id {
		return
	}
	delete(r.byID, c.ID)
	if r.active == c.ID {
		r.active = id
	}
	for i, v := range r.order {
		if v == c.ID {
			r.order[i] = id
			break
		}
	}
	c.ID = id
	r.byID[id] = c
	r.byPeer[c.PeerID] = id
}

// SetPeerProfile attaches display data from the external profile
// collaborator. Position and counters are untouched.
func (r *Roster) SetPeerProfile(peerID, name, avatar string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	canon := presence.Canonical(peerID)
	id, ok := r.byPeer[canon]
	if !ok {
		return
	}
	c := r.byID[id]
	c.PeerName = name
	c.PeerAvatar = avatar
}

// Select makes the conversation the active selection and zeroes its unread
// counter as one atomic step. Its position in the list does not change.
// Returns false for an unknown id.
func (r *Roster) Select(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return false
	}
	r.active = conversationID
	c.Unread = 0
	return true
}

// ClearSelection deactivates any active conversation.
func (r *Roster) ClearSelection() {
	r.mu.Lock()
	r.active = ""
	r.mu.Unlock()
}

// ActiveID returns the active conversation id, or "" when none is selected.
func (r *Roster) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Get returns a copy of the conversation, if known.
func (r *Roster) Get(conversationID string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// GetByPeer returns a copy of the conversation for a peer, if known.
func (r *Roster) GetByPeer(peerID string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPeer[presence.Canonical(peerID)]
	if !ok {
		return Conversation{}, false
	}
	return *r.byID[id], true
}

// List returns the conversations most-recent-first.
func (r *Roster) List() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// sortByActivity re-sorts the order slice by last activity descending using
// a stable insertion pass. Only used for bulk seeds; incremental mutations
// go through moveToHead. Caller holds the lock.
func (r *Roster) sortByActivity() {
	for i := 1; i < len(r.order); i++ {
		for j := i; j > 0; j-- {
			a := r.byID[r.order[j-1]]
			b := r.byID[r.order[j]]
			if b.LastActivity.After(a.LastActivity) {
				r.order[j-1], r.order[j] = r.order[j], r.order[j-1]
			} else {
				break
			}
		}
	}
}
