package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lungsom/chatd/internal/api"
	"github.com/lungsom/chatd/internal/bus"
	"github.com/lungsom/chatd/internal/delivery"
	"github.com/lungsom/chatd/internal/roster"
	"github.com/lungsom/chatd/internal/session"
	"github.com/lungsom/chatd/internal/store"
	"github.com/lungsom/chatd/internal/transport"
	"go.uber.org/zap"
)

// Store is the message-store surface the coordinator needs.
type Store interface {
	GetOrCreateConversation(ctx context.Context, peerID string) (*api.Conversation, error)
	PostMessage(ctx context.Context, conversationID, receiverID, text string) (*api.Message, error)
}

// Announcer pushes a persisted message to the peer over the live transport.
type Announcer interface {
	SendMessage(m transport.OutboundMessage) error
}

// Coordinator runs the optimistic send path: a local send becomes visible
// immediately as a pending message, is persisted through the message store,
// and only then announced on the transport. Failures leave the message
// visibly failed; they never silently disappear.
type Coordinator struct {
	db        *store.DB
	remote    Store
	announcer Announcer
	machine   *delivery.Machine
	roster    *roster.Roster
	bus       *bus.Bus
	sess      session.Context
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewCoordinator creates a send coordinator.
func NewCoordinator(db *store.DB, remote Store, announcer Announcer, machine *delivery.Machine, r *roster.Roster, b *bus.Bus, sess session.Context, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:        db,
		remote:    remote,
		announcer: announcer,
		machine:   machine,
		roster:    r,
		bus:       b,
		sess:      sess,
		logger:    logger,
	}
}

// Send validates and stages a message. The optimistic copy lands in the
// delivery machine, the roster and the cache before any network I/O; the
// persistence attempt itself runs from the drain loop. Returns the
// transient local id ("" for an empty no-op send). A retry after failure is
// simply a new Send with a fresh transient id.
func (c *Coordinator) Send(peerID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if err := c.sess.RequireValid(); err != nil {
		return "", err
	}

	localID := uuid.New().String()
	now := time.Now()

	conv := c.roster.ApplyLocalSend(peerID, text, now)
	c.machine.Create(localID, conv.ID)

	if err := c.db.UpsertMessage(&store.Message{
		ConversationID: conv.ID,
		MsgID:          localID,
		SenderID:       c.sess.UserID,
		Body:           text,
		Outbound:       true,
		Status:         string(delivery.StatusPending),
		Timestamp:      now.UnixMilli(),
	}); err != nil {
		c.logger.Error("failed to cache optimistic message", zap.Error(err))
	}
	if err := c.db.QueueOutbox(localID, conv.ID, conv.PeerID, text); err != nil {
		return "", err
	}

	c.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"conversation_id": conv.ID,
		"msg_id":          localID,
	})
	c.bus.Emit(bus.KindChatUpdated, conv.ID)
	return localID, nil
}

// Start begins draining the outbox.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

// Stop stops the drain loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processPending(ctx context.Context) {
	pending, err := c.db.PendingOutbox()
	if err != nil {
		c.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := c.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			c.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		c.persist(ctx, entry)
	}
}

// persist pushes one staged message through the store and, on success,
// announces it on the transport under its durable id.
func (c *Coordinator) persist(ctx context.Context, entry store.OutboxEntry) {
	conversationID := entry.ConversationID

	// A placeholder conversation needs its server record before the message
	// can be persisted against it.
	if strings.HasPrefix(conversationID, "peer:") {
		conv, err := c.remote.GetOrCreateConversation(ctx, entry.PeerID)
		if err != nil {
			c.fail(entry, conversationID, err)
			return
		}
		durable := string(conv.ID)
		c.roster.AdoptID(entry.PeerID, durable)
		c.machine.RekeyConversation(conversationID, durable)
		if err := c.db.RekeyConversation(conversationID, durable); err != nil {
			c.logger.Error("failed to rekey conversation", zap.Error(err), zap.String("conversation_id", durable))
		}
		conversationID = durable
	}

	msg, err := c.remote.PostMessage(ctx, conversationID, entry.PeerID, entry.Body)
	if err != nil {
		c.fail(entry, conversationID, err)
		return
	}
	durableID := string(msg.ID)

	if err := c.machine.Promote(entry.ClientMsgID, durableID); err != nil {
		c.logger.Warn("promote failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := c.db.RekeyMessage(conversationID, entry.ClientMsgID, durableID); err != nil {
		c.logger.Error("failed to rekey message", zap.Error(err))
	}
	if err := c.db.SetMessageStatus(durableID, string(delivery.StatusSent)); err != nil {
		c.logger.Error("failed to update status", zap.Error(err))
	}
	if err := c.db.MarkOutboxSent(entry.ClientMsgID, durableID); err != nil {
		c.logger.Error("failed to mark sent", zap.Error(err))
	}

	// Announce over the transport so the peer's session sees it live. The
	// message is durable either way; a dropped announce only delays the
	// peer until their next fetch.
	if err := c.announcer.SendMessage(transport.OutboundMessage{
		SenderID:   c.sess.UserID,
		ReceiverID: entry.PeerID,
		Text:       entry.Body,
		MessageID:  durableID,
		CreatedAt:  msg.CreatedAt,
	}); err != nil {
		c.logger.Warn("announce failed", zap.Error(err), zap.String("msg_id", durableID))
	}

	c.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("msg_id", durableID))
	c.bus.Emit(bus.KindMessageSendAck, map[string]string{
		"conversation_id": conversationID,
		"client_msg_id":   entry.ClientMsgID,
		"msg_id":          durableID,
	})
}

func (c *Coordinator) fail(entry store.OutboxEntry, conversationID string, err error) {
	c.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	c.machine.Fail(entry.ClientMsgID, err.Error())
	if dbErr := c.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); dbErr != nil {
		c.logger.Error("failed to mark outbox failed", zap.Error(dbErr))
	}
	if dbErr := c.db.MarkMessageFailed(conversationID, entry.ClientMsgID); dbErr != nil {
		c.logger.Error("failed to flag cached message", zap.Error(dbErr))
	}
	c.bus.Emit(bus.KindMessageSendFailed, map[string]string{
		"conversation_id": conversationID,
		"client_msg_id":   entry.ClientMsgID,
		"error":           err.Error(),
	})
}
