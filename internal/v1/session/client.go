// Package session implements the relay core: the room registry, per-room
// state, and the handlers for the quiz protocol verbs. Each WebSocket
// channel is a Client running a read pump and a write pump; the Hub routes
// decoded frames to the room handlers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lernkartei/relay/internal/v1/logging"
	"github.com/lernkartei/relay/internal/v1/metrics"
	"github.com/lernkartei/relay/internal/v1/protocol"
	"github.com/lernkartei/relay/internal/v1/ratelimit"
)

const (
	// writeWait is the deadline for a single outbound write.
	writeWait = 10 * time.Second
	// heartbeatInterval is the ping cadence. A channel that has not ponged
	// by pongWait is closed by the read deadline.
	heartbeatInterval = 30 * time.Second
	pongWait          = heartbeatInterval + 10*time.Second
	// maxFrameBytes caps a single inbound frame.
	maxFrameBytes = 64 * 1024
	// sendQueueSize bounds the per-channel outbound queue. A consumer that
	// falls this far behind is closed rather than back-pressuring its room.
	sendQueueSize = 256
)

// wsConnection is the subset of *websocket.Conn the client needs. Tests
// substitute mock connections.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Client is one WebSocket channel: a host's or a player's. Its binding
// (room, session, role) is set by the join/create/reconnect handlers and
// read by every later frame on the same channel.
type Client struct {
	hub  *Hub
	conn wsConnection
	send chan []byte

	mu             sync.Mutex
	closed         bool
	roomCode       string
	sessionID      string
	isHost         bool
	hasCreatedRoom bool

	msgLimiter     *ratelimit.MessageLimiter
	restoreLimiter *ratelimit.RestoreLimiter
	remoteAddr     string
}

func newClient(hub *Hub, conn wsConnection, remoteAddr string) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		msgLimiter:     ratelimit.NewMessageLimiter(),
		restoreLimiter: ratelimit.NewRestoreLimiter(),
		remoteAddr:     remoteAddr,
	}
}

// bind attaches the channel to a room under a session and role.
func (c *Client) bind(roomCode, sessionID string, isHost bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode = roomCode
	c.sessionID = sessionID
	c.isHost = isHost
}

// binding returns the channel's current room attachment.
func (c *Client) binding() (roomCode, sessionID string, isHost bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.sessionID, c.isHost
}

func (c *Client) markCreatedRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasCreatedRoom = true
}

func (c *Client) ownsRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasCreatedRoom
}

// readPump processes inbound frames until the connection drops: rate
// check, decode, dispatch. Runs in its own goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		switch c.msgLimiter.Check() {
		case ratelimit.VerdictClose:
			metrics.RateLimited.WithLabelValues("close").Inc()
			logging.Warn(c.logContext(), "channel flooding past hard limit, closing", zap.String("remote", c.remoteAddr))
			return
		case ratelimit.VerdictWarn:
			metrics.RateLimited.WithLabelValues("warn").Inc()
			c.sendError(protocol.ErrKindRateLimited)
			continue
		}

		typ, msg, err := protocol.DecodeInbound(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				metrics.Frames.WithLabelValues("unknown", "dropped").Inc()
				logging.Warn(c.logContext(), "dropping frame with unknown type", zap.String("frameType", typ))
				continue
			}
			metrics.Frames.WithLabelValues("invalid", "rejected").Inc()
			c.sendError(protocol.ErrKindMalformedFrame)
			continue
		}

		metrics.Frames.WithLabelValues(typ, "ok").Inc()
		c.hub.dispatch(c, msg)
	}
}

// writePump drains the send queue and keeps the heartbeat going. Runs in
// its own goroutine; exits when the queue is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues an outbound frame. A full queue means the consumer is not
// keeping up; the channel is closed so one slow reader cannot stall a room.
func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
	default:
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.conn.Close()
		logging.Warn(c.logContext(), "send queue full, closing slow consumer", zap.String("remote", c.remoteAddr))
	}
}

func (c *Client) sendFrame(v any) {
	c.enqueue(protocol.Encode(v))
}

func (c *Client) sendError(kind protocol.ErrorKind) {
	c.enqueue(protocol.Encode(protocol.NewError(kind)))
}

// Close shuts the channel down. Idempotent; queued frames are still
// flushed by the write pump before the close frame goes out.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.conn.Close()
}

func (c *Client) logContext() context.Context {
	roomCode, sessionID, _ := c.binding()
	ctx := context.Background()
	if roomCode != "" {
		ctx = context.WithValue(ctx, logging.RoomIDKey, roomCode)
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, logging.SessionIDKey, sessionID)
	}
	return ctx
}
