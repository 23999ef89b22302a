package store

// Conversation is a cached conversation summary.
type Conversation struct {
	ID           string
	PeerID       string
	PeerName     string
	PeerAvatar   string
	Preview      string
	LastActivity int64 // unix millis
	Unread       int
}

// Message is a cached message row.
type Message struct {
	RowID          int64
	ConversationID string
	MsgID          string
	SenderID       string
	Body           string
	Outbound       bool
	Status         string
	Failed         bool
	Timestamp      int64 // unix millis
}

// OutboxEntry is a queued local send awaiting persistence.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	PeerID         string
	Body           string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}
