package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation summary, keyed by
// peer so a placeholder created from an inbound message and the later
// server record collapse into one row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, peer_avatar, preview, last_activity, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			id = excluded.id,
			peer_name = CASE WHEN excluded.peer_name != '' THEN excluded.peer_name ELSE conversations.peer_name END,
			peer_avatar = CASE WHEN excluded.peer_avatar != '' THEN excluded.peer_avatar ELSE conversations.peer_avatar END,
			preview = excluded.preview,
			last_activity = excluded.last_activity,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.PeerID, c.PeerName, c.PeerAvatar, c.Preview, c.LastActivity, c.Unread, now)
	return err
}

// RekeyConversation moves a placeholder conversation (and its messages) to
// the durable server id.
func (db *DB) RekeyConversation(oldID, newID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`UPDATE conversations SET id = ?, updated_at = ? WHERE id = ?`, newID, now, oldID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE messages SET conversation_id = ? WHERE conversation_id = ?`, newID, oldID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE outbox SET conversation_id = ? WHERE conversation_id = ?`, newID, oldID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, peer_id, peer_name, peer_avatar, preview, last_activity, unread_count
		FROM conversations
		ORDER BY last_activity DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.PeerID, &c.PeerName, &c.PeerAvatar, &c.Preview, &c.LastActivity, &c.Unread); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, peer_id, peer_name, peer_avatar, preview, last_activity, unread_count
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.PeerID, &c.PeerName, &c.PeerAvatar, &c.Preview, &c.LastActivity, &c.Unread)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
