package sync

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lungsom/chatd/internal/api"
	"github.com/lungsom/chatd/internal/bus"
	"github.com/lungsom/chatd/internal/delivery"
	"github.com/lungsom/chatd/internal/presence"
	"github.com/lungsom/chatd/internal/roster"
	"github.com/lungsom/chatd/internal/session"
	"github.com/lungsom/chatd/internal/store"
	"github.com/lungsom/chatd/internal/transport"
)

// Transport is the live-socket surface the engine drives: identity
// re-assertion and read receipts.
type Transport interface {
	Identify() error
	MarkAsSeen(m transport.MarkSeen) error
}

// Fetcher reads durable state from the message store, used to rebuild the
// conversation list after a (re)connect and to hydrate message history.
type Fetcher interface {
	RecentConversations(ctx context.Context) ([]api.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]api.Message, error)
}

// Engine is the synchronization core. It consumes "transport." events from
// the bus on a single goroutine, in wire arrival order, and folds each one
// into the presence tracker, the delivery machine, the roster and the local
// cache. Everything downstream observes the results as bus events.
type Engine struct {
	db      *store.DB
	remote  Fetcher
	conn    Transport
	tracker *presence.Tracker
	machine *delivery.Machine
	roster  *roster.Roster
	bus     *bus.Bus
	sess    session.Context
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, remote Fetcher, conn Transport, tracker *presence.Tracker, machine *delivery.Machine, r *roster.Roster, b *bus.Bus, sess session.Context, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		remote:  remote,
		conn:    conn,
		tracker: tracker,
		machine: machine,
		roster:  r,
		bus:     b,
		sess:    sess,
		logger:  logger,
	}
}

// Start seeds the roster from the local cache, then subscribes to inbound
// transport events on the bus. The cache seed means the conversation list is
// usable before the first network fetch completes.
func (e *Engine) Start(ctx context.Context) {
	e.seedFromCache()

	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("transport.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) seedFromCache() {
	cached, err := e.db.ListConversations(200, 0)
	if err != nil {
		e.logger.Warn("cache seed failed", zap.Error(err))
		return
	}
	if len(cached) == 0 {
		return
	}
	seed := make([]roster.Conversation, 0, len(cached))
	for _, c := range cached {
		seed = append(seed, roster.Conversation{
			ID:           c.ID,
			PeerID:       c.PeerID,
			PeerName:     c.PeerName,
			PeerAvatar:   c.PeerAvatar,
			Preview:      c.Preview,
			LastActivity: time.UnixMilli(c.LastActivity),
			Unread:       c.Unread,
		})
	}
	e.roster.ApplyBulk(seed)
	e.logger.Info("roster seeded from cache", zap.Int("conversations", len(seed)))
	e.bus.Emit(bus.KindChatUpdated, "")
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindTransportConnected:
		e.Resync(ctx)
	case bus.KindTransportDisconnected:
		// The online set is unknowable while disconnected. It stays
		// readable but stale until the next snapshot replaces it.
		e.tracker.MarkStale()
		e.bus.Emit(bus.KindPresenceUpdated, e.tracker.OnlineCount())
	case bus.KindTransportPresence:
		ids, ok := evt.Payload.([]presence.ID)
		if !ok {
			return
		}
		e.applyPresence(ids)
	case bus.KindTransportMessage:
		m, ok := evt.Payload.(transport.InboundMessage)
		if !ok {
			return
		}
		if err := e.ingestInbound(m); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", m.MessageID.String()))
		}
	case bus.KindTransportDelivery:
		d, ok := evt.Payload.(transport.DeliveryUpdate)
		if !ok {
			return
		}
		e.applyDeliveryUpdate(d)
	case bus.KindTransportSeen:
		s, ok := evt.Payload.(transport.ConversationSeen)
		if !ok {
			return
		}
		e.applyConversationSeen(s)
	}
}

// applyPresence replaces the online set wholesale. A snapshot is complete
// truth; anyone missing from it went offline.
func (e *Engine) applyPresence(ids []presence.ID) {
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = string(id)
	}
	e.tracker.Replace(anyIDs)
	e.bus.Emit(bus.KindPresenceUpdated, e.tracker.OnlineCount())
}

// ingestInbound folds a message pushed on behalf of a peer into the roster,
// the delivery machine and the cache. When the conversation is the active
// selection the unread counter stays at zero and a read receipt goes out
// immediately.
func (e *Engine) ingestInbound(m transport.InboundMessage) error {
	peerID := m.SenderID.String()
	at := time.UnixMilli(m.CreatedAt)
	if m.CreatedAt == 0 {
		at = time.Now()
	}

	conv, markSeen := e.roster.ApplyInbound(peerID, m.Text, at)
	msg := e.machine.TrackInbound(m.MessageID.String(), conv.ID)

	if err := e.db.UpsertConversation(&store.Conversation{
		ID:           conv.ID,
		PeerID:       conv.PeerID,
		PeerName:     conv.PeerName,
		PeerAvatar:   conv.PeerAvatar,
		Preview:      conv.Preview,
		LastActivity: conv.LastActivity.UnixMilli(),
		Unread:       conv.Unread,
	}); err != nil {
		return err
	}
	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: conv.ID,
		MsgID:          msg.ID,
		SenderID:       conv.PeerID,
		Body:           m.Text,
		Status:         string(msg.Status),
		Timestamp:      at.UnixMilli(),
	}); err != nil {
		return err
	}

	if markSeen {
		if err := e.conn.MarkAsSeen(transport.MarkSeen{
			ConversationID: conv.ID,
			SeenBy:         e.sess.UserID,
			SenderID:       conv.PeerID,
		}); err != nil {
			e.logger.Debug("mark-seen not delivered", zap.Error(err))
		}
	}

	e.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"conversation_id": conv.ID,
		"msg_id":          msg.ID,
	})
	e.bus.Emit(bus.KindChatUpdated, conv.ID)
	return nil
}

// wireStatus maps the backend's status vocabulary onto the delivery
// machine's. The wire says "delivered" where the machine says received.
func wireStatus(s string) delivery.Status {
	if s == "delivered" {
		return delivery.StatusReceived
	}
	return delivery.Status(s)
}

// applyDeliveryUpdate advances one message's delivery status. Regressions
// and unknown ids are dropped; the machine only ever moves forward.
func (e *Engine) applyDeliveryUpdate(d transport.DeliveryUpdate) {
	to := wireStatus(d.Status)
	if !to.Valid() {
		e.logger.Debug("unknown delivery status", zap.String("status", d.Status))
		return
	}
	id := d.MessageID.String()
	if !e.machine.Advance(id, to) {
		return
	}
	if err := e.db.SetMessageStatus(id, string(to)); err != nil {
		e.logger.Error("failed to update cached status", zap.Error(err), zap.String("msg_id", id))
	}
	msg, _ := e.machine.Get(id)
	e.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"msg_id":          id,
	})
}

// applyConversationSeen handles the high-water-mark read receipt: the peer
// identified by SeenBy has read everything sent to them, so every sent or
// received outbound message in that conversation jumps to seen in one batch.
func (e *Engine) applyConversationSeen(s transport.ConversationSeen) {
	conv, ok := e.roster.GetByPeer(s.SeenBy.String())
	if !ok {
		e.logger.Debug("seen event for unknown peer", zap.String("peer_id", s.SeenBy.String()))
		return
	}
	changed := e.machine.MarkConversationSeen(conv.ID)
	rows, err := e.db.MarkConversationSeen(conv.ID)
	if err != nil {
		e.logger.Error("failed to mark cached messages seen", zap.Error(err), zap.String("conversation_id", conv.ID))
	}
	if len(changed) > 0 || rows > 0 {
		e.bus.Emit(bus.KindChatUpdated, conv.ID)
	}
}

// Resync rebuilds the conversation list from the message store. Runs after
// every (re)connect: events missed while disconnected are only recoverable
// from durable state.
func (e *Engine) Resync(ctx context.Context) {
	summaries, err := e.remote.RecentConversations(ctx)
	if err != nil {
		e.logger.Warn("resync failed", zap.Error(err))
		return
	}

	seed := make([]roster.Conversation, 0, len(summaries))
	for _, s := range summaries {
		seed = append(seed, roster.Conversation{
			ID:           string(s.ID),
			PeerID:       s.PeerID.String(),
			PeerName:     s.PeerName,
			PeerAvatar:   s.PeerAvatar,
			Preview:      s.LastText,
			LastActivity: time.UnixMilli(s.UpdatedAt),
			Unread:       s.Unread,
		})
	}
	e.roster.ApplyBulk(seed)

	for _, c := range e.roster.List() {
		if err := e.db.UpsertConversation(&store.Conversation{
			ID:           c.ID,
			PeerID:       c.PeerID,
			PeerName:     c.PeerName,
			PeerAvatar:   c.PeerAvatar,
			Preview:      c.Preview,
			LastActivity: c.LastActivity.UnixMilli(),
			Unread:       c.Unread,
		}); err != nil {
			e.logger.Error("failed to cache conversation", zap.Error(err), zap.String("conversation_id", c.ID))
		}
	}

	e.logger.Info("resync complete", zap.Int("conversations", len(summaries)))
	e.bus.Emit(bus.KindChatUpdated, "")
}

// SelectConversation makes a conversation the active selection: its unread
// counter zeroes, a read receipt goes out, and identity is re-asserted in
// case the backend dropped the user mapping during an idle stretch.
// Returns false for an unknown conversation id.
func (e *Engine) SelectConversation(id string) bool {
	if !e.roster.Select(id) {
		return false
	}
	conv, _ := e.roster.Get(id)

	if err := e.conn.Identify(); err != nil {
		e.logger.Debug("identify not delivered", zap.Error(err))
	}
	if err := e.conn.MarkAsSeen(transport.MarkSeen{
		ConversationID: id,
		SeenBy:         e.sess.UserID,
		SenderID:       conv.PeerID,
	}); err != nil {
		e.logger.Debug("mark-seen not delivered", zap.Error(err))
	}

	if err := e.db.UpsertConversation(&store.Conversation{
		ID:           conv.ID,
		PeerID:       conv.PeerID,
		PeerName:     conv.PeerName,
		PeerAvatar:   conv.PeerAvatar,
		Preview:      conv.Preview,
		LastActivity: conv.LastActivity.UnixMilli(),
		Unread:       0,
	}); err != nil {
		e.logger.Error("failed to persist unread reset", zap.Error(err), zap.String("conversation_id", id))
	}

	e.bus.Emit(bus.KindChatSelected, id)
	e.bus.Emit(bus.KindChatUpdated, id)

	// History hydration runs off the caller's path; the cached messages are
	// already readable and the fetch only fills gaps.
	go e.hydrate(conv)
	return true
}

// hydrate backfills a conversation's message history from the store into
// the cache. Upserts are idempotent, so overlap with live events is safe.
func (e *Engine) hydrate(conv roster.Conversation) {
	// A placeholder conversation has no server record to fetch yet.
	if strings.HasPrefix(conv.ID, "peer:") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	msgs, err := e.remote.ListMessages(ctx, conv.ID)
	if err != nil {
		e.logger.Warn("history fetch failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		return
	}
	for _, m := range msgs {
		outbound := m.SenderID.String() == e.sess.UserID
		if err := e.db.UpsertMessage(&store.Message{
			ConversationID: conv.ID,
			MsgID:          string(m.ID),
			SenderID:       m.SenderID.String(),
			Body:           m.Text,
			Outbound:       outbound,
			Status:         string(delivery.StatusSent),
			Timestamp:      m.CreatedAt,
		}); err != nil {
			e.logger.Error("failed to cache history message", zap.Error(err), zap.String("msg_id", string(m.ID)))
		}
	}
	if len(msgs) > 0 {
		e.bus.Emit(bus.KindMessageUpserted, map[string]string{
			"conversation_id": conv.ID,
		})
	}
}

// ClearSelection deactivates the active conversation. Subsequent inbound
// messages count as unread again.
func (e *Engine) ClearSelection() {
	e.roster.ClearSelection()
	e.bus.Emit(bus.KindChatSelected, "")
}
