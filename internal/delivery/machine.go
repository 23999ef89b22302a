package delivery

import (
	"fmt"
	"sync"
)

// Status is a message delivery state.
type Status string

const (
	// StatusPending marks an optimistic local send not yet persisted.
	StatusPending Status = "pending"
	// StatusSent means the message store acknowledged persistence.
	StatusSent Status = "sent"
	// StatusReceived means the peer's session acknowledged delivery.
	StatusReceived Status = "received"
	// StatusSeen means the peer marked the conversation as read. Terminal.
	StatusSeen Status = "seen"
)

// rank orders statuses; a message only ever moves to a higher rank.
var rank = map[Status]int{
	StatusPending:  0,
	StatusSent:     1,
	StatusReceived: 2,
	StatusSeen:     3,
}

// Valid reports whether s is a known delivery status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Message is the delivery-tracking view of a message. The ID is a transient
// client id while pending and the durable store id after promotion.
type Message struct {
	ID             string
	ConversationID string
	Outbound       bool
	Status         Status
	Failed         bool
	FailReason     string
}

// Machine tracks per-message delivery lifecycle. All transitions are
// monotonic along pending → sent → received → seen; stale or duplicate
// events degrade to no-ops, which is what makes out-of-order transport
// delivery safe.
type Machine struct {
	mu   sync.Mutex
	msgs map[string]*Message
}

// NewMachine creates an empty delivery machine.
func NewMachine() *Machine {
	return &Machine{msgs: make(map[string]*Message)}
}

// Create registers an optimistic outbound message in pending under its
// transient local id.
func (m *Machine) Create(localID, conversationID string) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &Message{
		ID:             localID,
		ConversationID: conversationID,
		Outbound:       true,
		Status:         StatusPending,
	}
	m.msgs[localID] = msg
	return msg
}

// TrackInbound registers a message authored by the peer. Inbound messages
// are observed already persisted, so they enter at sent, never pending.
func (m *Machine) TrackInbound(id, conversationID string) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.msgs[id]; ok {
		return existing
	}
	msg := &Message{
		ID:             id,
		ConversationID: conversationID,
		Status:         StatusSent,
	}
	m.msgs[id] = msg
	return msg
}

// Promote re-keys a pending message to its durable store id and moves it to
// sent. Any UI reference must switch to the durable id; the transient id is
// retired and subsequent lookups on it miss.
func (m *Machine) Promote(localID, durableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[localID]
	if !ok {
		return fmt.Errorf("promote: unknown local message %q", localID)
	}
	if msg.Failed {
		return fmt.Errorf("promote: message %q is marked failed", localID)
	}
	delete(m.msgs, localID)
	msg.ID = durableID
	if rank[StatusSent] > rank[msg.Status] {
		msg.Status = StatusSent
	}
	m.msgs[durableID] = msg
	return nil
}

// RekeyConversation moves every tracked message from a placeholder
// conversation id to the durable id the server assigned. Seen sweeps and
// delivery updates address conversations by durable id, so messages sent
// before adoption must follow the rename.
func (m *Machine) RekeyConversation(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ConversationID == oldID {
			msg.ConversationID = newID
		}
	}
}

// Advance moves a message to the given status if that is forward progress.
// Returns true when the status actually changed. Failed messages never
// advance; regressions and unknown ids are ignored.
func (m *Machine) Advance(id string, to Status) bool {
	if !to.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok || msg.Failed {
		return false
	}
	if rank[to] <= rank[msg.Status] {
		return false
	}
	msg.Status = to
	return true
}

// Fail marks a pending message as failed. The message keeps its status and
// stays visible so the user can retry or discard; it is excluded from all
// further transitions.
func (m *Machine) Fail(localID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.msgs[localID]; ok {
		msg.Failed = true
		msg.FailReason = reason
	}
}

// MarkConversationSeen advances every outbound message in sent or received
// for the given conversation to seen, in one batch. This is the
// high-water-mark read receipt: the server sends one conversation-level
// event, not per-message ids. Returns the ids that changed.
func (m *Machine) MarkConversationSeen(conversationID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []string
	for id, msg := range m.msgs {
		if msg.ConversationID != conversationID || !msg.Outbound || msg.Failed {
			continue
		}
		if msg.Status == StatusSent || msg.Status == StatusReceived {
			msg.Status = StatusSeen
			changed = append(changed, id)
		}
	}
	return changed
}

// Get returns a copy of the tracked message, if known.
func (m *Machine) Get(id string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}
