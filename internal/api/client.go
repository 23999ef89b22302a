package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lungsom/chatd/internal/presence"
	"github.com/lungsom/chatd/internal/session"
	"go.uber.org/zap"
)

// StoreError is returned for message-store requests that were issued but
// not honored. The raw HTTP details stay here; callers branch on the kind
// of operation, not on status codes.
type StoreError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *StoreError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("message store %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("message store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ID is a wire identifier normalized to canonical string form on decode.
type ID = presence.ID

// Conversation is a conversation record from the message store.
type Conversation struct {
	ID         ID     `json:"_id"`
	PeerID     ID     `json:"peerId"`
	PeerName   string `json:"peerName"`
	PeerAvatar string `json:"profilePic"`
	LastText   string `json:"lastMessage"`
	UpdatedAt  int64  `json:"updatedAt"`
	Unread     int    `json:"unreadCount"`
}

// Message is a persisted message record from the message store.
type Message struct {
	ID             ID     `json:"_id"`
	ConversationID ID     `json:"conversationId"`
	SenderID       ID     `json:"senderId"`
	Text           string `json:"text"`
	CreatedAt      int64  `json:"createdAt"`
}

// User is a profile search result.
type User struct {
	ID         ID     `json:"_id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic"`
}

// Client is the request/response client for the external message store.
// Every call carries the session bearer token; a session that fails
// validation is rejected locally before any bytes hit the wire.
type Client struct {
	baseURL string
	http    *http.Client
	sess    session.Context
	logger  *zap.Logger
}

// NewClient creates a message store client.
func NewClient(baseURL string, sess session.Context, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		sess:    sess,
		logger:  logger,
	}
}

// GetOrCreateConversation resolves the conversation with a peer, creating
// it server-side when absent.
func (c *Client) GetOrCreateConversation(ctx context.Context, peerID string) (*Conversation, error) {
	var conv Conversation
	err := c.do(ctx, "get_or_create_conversation", http.MethodPost, "/messages/conversation",
		map[string]string{"peerId": peerID}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages returns the ordered messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	err := c.do(ctx, "list_messages", http.MethodGet, "/messages/"+url.PathEscape(conversationID), nil, &msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// PostMessage persists a message and returns the record with its durable id
// and server timestamp.
func (c *Client) PostMessage(ctx context.Context, conversationID, receiverID, text string) (*Message, error) {
	var msg Message
	err := c.do(ctx, "post_message", http.MethodPost, "/messages",
		map[string]string{
			"conversationId": conversationID,
			"receiverId":     receiverID,
			"text":           text,
		}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// RecentConversations returns the session user's conversation summaries,
// most recent first.
func (c *Client) RecentConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	err := c.do(ctx, "recent_conversations", http.MethodGet, "/messages/conversations", nil, &convs)
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// SearchUsers queries profiles by partial username.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	err := c.do(ctx, "search_users", http.MethodGet, "/user/search?query="+url.QueryEscape(query), nil, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.sess.RequireValid(); err != nil {
		return &StoreError{Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &StoreError{Op: op, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.sess.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StoreError{Op: op, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &StoreError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
