package delivery

import (
	"slices"
	"testing"
)

func TestOptimisticSendLifecycle(t *testing.T) {
	m := NewMachine()

	msg := m.Create("local-1", "conv-a")
	if msg.Status != StatusPending {
		t.Fatalf("created status = %s, want pending", msg.Status)
	}

	if err := m.Promote("local-1", "srv-100"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if _, ok := m.Get("local-1"); ok {
		t.Error("transient id still resolvable after promotion")
	}
	got, ok := m.Get("srv-100")
	if !ok {
		t.Fatal("durable id not resolvable after promotion")
	}
	if got.Status != StatusSent {
		t.Errorf("status after promote = %s, want sent", got.Status)
	}

	if !m.Advance("srv-100", StatusReceived) {
		t.Error("Advance(received) = false, want true")
	}
	if !m.Advance("srv-100", StatusSeen) {
		t.Error("Advance(seen) = false, want true")
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	m := NewMachine()
	m.Create("l1", "c1")
	if err := m.Promote("l1", "s1"); err != nil {
		t.Fatal(err)
	}
	m.Advance("s1", StatusSeen)

	for _, to := range []Status{StatusPending, StatusSent, StatusReceived} {
		if m.Advance("s1", to) {
			t.Errorf("Advance(%s) from seen succeeded, want no-op", to)
		}
	}
	got, _ := m.Get("s1")
	if got.Status != StatusSeen {
		t.Errorf("status = %s, want seen", got.Status)
	}
}

func TestAdvanceUnknownOrInvalid(t *testing.T) {
	m := NewMachine()
	if m.Advance("nope", StatusSeen) {
		t.Error("Advance on unknown id succeeded")
	}
	m.Create("l1", "c1")
	if m.Advance("l1", Status("bogus")) {
		t.Error("Advance to invalid status succeeded")
	}
}

func TestInboundEntersAtSent(t *testing.T) {
	m := NewMachine()
	msg := m.TrackInbound("srv-"+"9", "c1")
	if msg.Status != StatusSent {
		t.Errorf("inbound status = %s, want sent (never pending)", msg.Status)
	}
	if msg.Outbound {
		t.Error("inbound message marked outbound")
	}

	// Duplicate delivery of the same id is idempotent.
	m.Advance("srv-9", StatusReceived)
	again := m.TrackInbound("srv-9", "c1")
	if again.Status != StatusReceived {
		t.Errorf("re-track reset status to %s", again.Status)
	}
}

func TestMarkConversationSeenIsScoped(t *testing.T) {
	m := NewMachine()

	m.Create("a1", "conv-a")
	_ = m.Promote("a1", "sa1")
	m.Create("a2", "conv-a")
	_ = m.Promote("a2", "sa2")
	m.Advance("sa2", StatusReceived)

	// Outbound in another conversation: must not move.
	m.Create("b1", "conv-b")
	_ = m.Promote("b1", "sb1")

	// Inbound in the same conversation: not ours, must not move.
	m.TrackInbound("in1", "conv-a")

	// Still pending: below the high-water mark, must not move.
	m.Create("a3", "conv-a")

	changed := m.MarkConversationSeen("conv-a")
	slices.Sort(changed)
	if !slices.Equal(changed, []string{"sa1", "sa2"}) {
		t.Errorf("changed = %v, want [sa1 sa2]", changed)
	}

	for id, want := range map[string]Status{
		"sa1": StatusSeen,
		"sa2": StatusSeen,
		"sb1": StatusSent,
		"in1": StatusSent,
		"a3":  StatusPending,
	} {
		got, ok := m.Get(id)
		if !ok {
			t.Fatalf("message %s missing", id)
		}
		if got.Status != want {
			t.Errorf("%s status = %s, want %s", id, got.Status, want)
		}
	}
}

func TestRekeyConversationFollowsAdoption(t *testing.T) {
	m := NewMachine()

	m.Create("l1", "peer:7")
	_ = m.Promote("l1", "s1")
	m.Create("l2", "peer:7")
	m.Create("x1", "peer:9")

	m.RekeyConversation("peer:7", "c1")

	for id, want := range map[string]string{
		"s1": "c1",
		"l2": "c1",
		"x1": "peer:9",
	} {
		got, ok := m.Get(id)
		if !ok {
			t.Fatalf("message %s missing", id)
		}
		if got.ConversationID != want {
			t.Errorf("%s conversation = %s, want %s", id, got.ConversationID, want)
		}
	}

	// The seen sweep addresses the durable id after adoption.
	changed := m.MarkConversationSeen("c1")
	if !slices.Equal(changed, []string{"s1"}) {
		t.Errorf("changed = %v, want [s1]", changed)
	}
}

func TestFailedMessageIsFrozen(t *testing.T) {
	m := NewMachine()
	m.Create("l1", "c1")
	m.Fail("l1", "store rejected")

	got, _ := m.Get("l1")
	if !got.Failed || got.FailReason != "store rejected" {
		t.Errorf("failed marker not set: %+v", got)
	}
	if got.Status != StatusPending {
		t.Errorf("failure changed status to %s, want pending", got.Status)
	}

	if m.Advance("l1", StatusSent) {
		t.Error("failed message advanced")
	}
	if changed := m.MarkConversationSeen("c1"); len(changed) != 0 {
		t.Errorf("failed message swept by seen batch: %v", changed)
	}
	if err := m.Promote("l1", "s1"); err == nil {
		t.Error("failed message promoted")
	}
}
