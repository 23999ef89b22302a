package transport

import (
	"encoding/json"

	"github.com/lungsom/chatd/internal/presence"
)

// Frame event names on the wire, client→server and server→client.
const (
	evIdentify    = "identify"
	evSendMessage = "sendMessage"
	evMarkAsSeen  = "markAsSeen"

	evPresenceSnapshot = "presenceSnapshot"
	evMessageReceived  = "messageReceived"
	evDeliveryUpdate   = "deliveryStatusUpdate"
	evConversationSeen = "conversationSeen"
)

// envelope is the outer shape of every frame on the socket.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, data any) (envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Event: event, Data: raw}, nil
}

// identifyPayload announces the session's user id so the backend can route
// presence and messages to this connection.
type identifyPayload struct {
	UserID string `json:"userId"`
}

// OutboundMessage announces a persisted message to the peer.
type OutboundMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	MessageID  string `json:"messageId"`
	CreatedAt  int64  `json:"createdAt"`
}

// MarkSeen tells the backend the session user has read a conversation.
type MarkSeen struct {
	ConversationID string `json:"conversationId"`
	SeenBy         string `json:"seenBy"`
	SenderID       string `json:"senderId"`
}

// presenceSnapshot replaces the online set wholesale.
type presenceSnapshot struct {
	OnlineUserIDs []presence.ID `json:"onlineUserIds"`
}

// InboundMessage is a message pushed by the backend on behalf of a peer.
type InboundMessage struct {
	SenderID  presence.ID `json:"senderId"`
	Text      string      `json:"text"`
	MessageID presence.ID `json:"messageId"`
	CreatedAt int64       `json:"createdAt"`
}

// DeliveryUpdate advances one message's delivery status.
type DeliveryUpdate struct {
	MessageID presence.ID `json:"messageId"`
	Status    string      `json:"status"`
}

// ConversationSeen is the high-water-mark read receipt: the peer identified
// by SeenBy has read everything sent to them so far.
type ConversationSeen struct {
	SeenBy presence.ID `json:"seenBy"`
}
