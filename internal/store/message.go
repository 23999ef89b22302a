package store

import "time"

// rankExpr mirrors the delivery machine's status ordering in SQL so cached
// rows never regress when an out-of-order event is replayed.
func rankExpr(col string) string {
	return `CASE ` + col + ` WHEN 'pending' THEN 0 WHEN 'sent' THEN 1 WHEN 'received' THEN 2 WHEN 'seen' THEN 3 ELSE -1 END`
}

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Status only moves forward.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, outbound, status, failed, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			failed = excluded.failed,
			status = CASE WHEN `+rankExpr("excluded.status")+` > `+rankExpr("messages.status")+`
				THEN excluded.status ELSE messages.status END`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.Outbound, m.Status, m.Failed, m.Timestamp, now)
	return err
}

// RekeyMessage replaces a transient client message id with the durable
// store id after a successful persistence.
func (db *DB) RekeyMessage(conversationID, localID, durableID string) error {
	_, err := db.Exec(`UPDATE messages SET msg_id = ? WHERE conversation_id = ? AND msg_id = ?`,
		durableID, conversationID, localID)
	return err
}

// SetMessageStatus updates a message's delivery status by id, forward only.
func (db *DB) SetMessageStatus(msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE msg_id = ? AND failed = 0 AND `+rankExpr("?")+` > `+rankExpr("status"),
		status, msgID, status)
	return err
}

// MarkConversationSeen advances every non-failed outbound message in sent
// or received for the conversation to seen. Returns the number of rows
// changed.
func (db *DB) MarkConversationSeen(conversationID string) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET status = 'seen'
		WHERE conversation_id = ? AND outbound = 1 AND failed = 0
		AND status IN ('sent', 'received')`, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkMessageFailed flags an optimistic message as failed without touching
// its status.
func (db *DB) MarkMessageFailed(conversationID, msgID string) error {
	_, err := db.Exec(`UPDATE messages SET failed = 1 WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, body, outbound, status, failed, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.Outbound, &m.Status, &m.Failed, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
