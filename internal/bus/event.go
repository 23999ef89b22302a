package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "transport." or "message.".
const (
	// Transport namespace: decoded frames from the backend connection.
	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"
	KindTransportPresence     = "transport.presence"
	KindTransportMessage      = "transport.message"
	KindTransportDelivery     = "transport.delivery"
	KindTransportSeen         = "transport.seen"

	// Message namespace: local message lifecycle, consumed by the UI layer.
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	// Chat namespace: conversation list changes.
	KindChatUpdated  = "chat.updated"
	KindChatSelected = "chat.selected"

	// Presence namespace.
	KindPresenceUpdated = "presence.updated"

	// Search namespace: debounced user-search results.
	KindSearchResults = "search.results"

	// Session namespace: connection status transitions.
	KindStatusChanged = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
