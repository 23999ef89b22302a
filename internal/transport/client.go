package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lungsom/chatd/internal/bus"
	"github.com/lungsom/chatd/internal/session"
	"github.com/lungsom/chatd/internal/status"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a frame is emitted while the transport
// is down. Callers treat it as a transient condition; the outbox retries.
var ErrNotConnected = errors.New("transport not connected")

// ConnError wraps connection failures: invalid session, unreachable
// backend, mid-stream drops. Fatal to the core until credentials or the
// network recover.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *ConnError) Unwrap() error { return e.Err }

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client owns the single live websocket to the messaging backend. Nothing
// else holds the raw connection: other components emit frames through the
// typed methods here and consume inbound events from the bus, in the order
// they arrived on the wire.
type Client struct {
	socketURL  string
	sess       session.Context
	bus        *bus.Bus
	machine    *status.Machine
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	outbound chan envelope
	done     chan struct{}
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// NewClient creates a connection manager. Nothing connects until Start.
func NewClient(socketURL string, sess session.Context, b *bus.Bus, m *status.Machine, logger *zap.Logger, minBackoff, maxBackoff time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		socketURL:  socketURL,
		sess:       sess,
		bus:        b,
		machine:    m,
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Start validates the session and launches the connection manager loop.
// The loop dials, identifies, pumps frames, and on transport loss backs off
// and reconnects until Disconnect or ctx cancellation. Returns ConnError
// without starting anything when no valid session exists — the caller must
// redirect to re-authentication.
func (c *Client) Start(ctx context.Context) error {
	if err := c.sess.RequireValid(); err != nil {
		_ = c.machine.Transition(status.Error)
		return &ConnError{Op: "start", Err: err}
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.stop = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()
	return nil
}

// Disconnect tears the transport down. Idempotent; safe when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	_ = c.machine.Transition(status.Idle)
}

// Identify re-announces the session identity. The engine calls this when
// the active conversation changes, guarding against backends that silently
// drop the user↔connection mapping after idle periods.
func (c *Client) Identify() error {
	return c.enqueue(evIdentify, identifyPayload{UserID: c.sess.UserID})
}

// SendMessage announces a persisted message to the peer.
func (c *Client) SendMessage(m OutboundMessage) error {
	return c.enqueue(evSendMessage, m)
}

// MarkAsSeen reports that the session user has read a conversation.
func (c *Client) MarkAsSeen(m MarkSeen) error {
	return c.enqueue(evMarkAsSeen, m)
}

func (c *Client) enqueue(event string, payload any) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return &ConnError{Op: "encode " + event, Err: err}
	}
	c.mu.Lock()
	out := c.outbound
	c.mu.Unlock()
	if out == nil {
		return &ConnError{Op: event, Err: ErrNotConnected}
	}
	select {
	case out <- env:
		return nil
	default:
		return &ConnError{Op: event, Err: errors.New("outbound queue full")}
	}
}

// run is the connection manager loop: dial, identify, pump until the
// connection drops, then back off and try again.
func (c *Client) run(ctx context.Context) {
	backoff := c.minBackoff
	for {
		err := c.connect(ctx)
		if err == nil {
			backoff = c.minBackoff
			c.readLoop(ctx) // blocks until the connection drops
			c.teardown()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("transport lost, reconnecting")
			_ = c.machine.Transition(status.Reconnecting)
			c.bus.Emit(bus.KindTransportDisconnected, nil)
		} else {
			c.logger.Warn("connect failed", zap.Error(err))
			_ = c.machine.Transition(status.Reconnecting)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// connect dials the backend and announces identity. The identify frame goes
// out before anything else: the backend cannot route events to an anonymous
// connection.
func (c *Client) connect(ctx context.Context) error {
	_ = c.machine.Transition(status.Connecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.sess.Token)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.socketURL, header)
	if err != nil {
		return &ConnError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxMessageSize)

	_ = c.machine.Transition(status.Identifying)
	env, err := newEnvelope(evIdentify, identifyPayload{UserID: c.sess.UserID})
	if err != nil {
		_ = conn.Close()
		return &ConnError{Op: "identify", Err: err}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		_ = conn.Close()
		return &ConnError{Op: "identify", Err: err}
	}

	outbound := make(chan envelope, 64)
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.outbound = outbound
	c.done = done
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop(ctx, conn, outbound, done)
	}()

	_ = c.machine.Transition(status.Ready)
	c.bus.Emit(bus.KindTransportConnected, nil)
	c.logger.Info("transport connected", zap.String("url", c.socketURL))
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.outbound = nil
	if c.done != nil {
		// Retire this connection's write loop; closing the socket alone
		// would leave it parked on the dead outbound channel.
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()
}

// readLoop decodes frames and publishes them on the bus in arrival order.
func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		c.route(env)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan envelope, done <-chan struct{}) {
	for {
		select {
		case env := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Warn("write error", zap.String("event", env.Event), zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// route fans a decoded frame out to the bus. Payload decode failures are
// logged and dropped; a malformed frame must not kill the connection.
func (c *Client) route(env envelope) {
	switch env.Event {
	case evPresenceSnapshot:
		var p presenceSnapshot
		if c.decode(env, &p) {
			c.bus.Emit(bus.KindTransportPresence, p.OnlineUserIDs)
		}
	case evMessageReceived:
		var m InboundMessage
		if c.decode(env, &m) {
			c.bus.Emit(bus.KindTransportMessage, m)
		}
	case evDeliveryUpdate:
		var d DeliveryUpdate
		if c.decode(env, &d) {
			c.bus.Emit(bus.KindTransportDelivery, d)
		}
	case evConversationSeen:
		var s ConversationSeen
		if c.decode(env, &s) {
			c.bus.Emit(bus.KindTransportSeen, s)
		}
	default:
		c.logger.Debug("unknown frame", zap.String("event", env.Event))
	}
}

func (c *Client) decode(env envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		c.logger.Warn("malformed frame payload", zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}
