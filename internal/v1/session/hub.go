package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lernkartei/relay/internal/v1/config"
	"github.com/lernkartei/relay/internal/v1/ident"
	"github.com/lernkartei/relay/internal/v1/logging"
	"github.com/lernkartei/relay/internal/v1/metrics"
	"github.com/lernkartei/relay/internal/v1/protocol"
	"github.com/lernkartei/relay/internal/v1/ratelimit"
)

// Hub is the process-wide coordinator: it owns the room registry and turns
// upgraded WebSocket connections into clients. Registry lookups, inserts,
// and removals are atomic with respect to each other.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg         *config.Config
	connLimiter *ratelimit.ConnLimiter
	upgrader    websocket.Upgrader
}

// NewHub creates a Hub with its dependencies.
func NewHub(cfg *config.Config, connLimiter *ratelimit.ConnLimiter) *Hub {
	h := &Hub{
		rooms:       make(map[string]*Room),
		cfg:         cfg,
		connLimiter: connLimiter,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOrigins == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range strings.Split(h.cfg.AllowedOrigins, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// ServeWs rate-limits and upgrades an HTTP request, then starts the
// client's pumps. Role and room binding happen later, per frame.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.connLimiter != nil && !h.connLimiter.CheckWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, c.ClientIP())
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

// dispatch routes a decoded frame. Host-only verbs from a channel whose
// session does not match the room's host session are dropped without an
// error frame, so probing cannot tell roles apart.
func (h *Hub) dispatch(c *Client, msg any) {
	switch m := msg.(type) {
	case *protocol.CreateRoom:
		h.handleCreateRoom(c)
	case *protocol.ReconnectHost:
		h.handleReconnectHost(c, m)
	case *protocol.RestoreRoom:
		h.handleRestoreRoom(c, m)
	case *protocol.Join:
		h.handleJoin(c, m)
	case *protocol.SubmitAnswer:
		h.handleSubmitAnswer(c, m)
	case *protocol.StartQuestion:
		if r, ok := h.hostRoom(c); ok {
			h.handleStartQuestion(r, m)
		}
	case *protocol.SendResults:
		if r, ok := h.hostRoom(c); ok {
			h.handleSendResults(r, m)
		}
	case *protocol.Terminate:
		if r, ok := h.hostRoom(c); ok {
			h.terminateRoom(r, "host_terminated")
		}
	}
}

// hostRoom resolves the sender's room and verifies its session is the
// room's host session.
func (h *Hub) hostRoom(c *Client) (*Room, bool) {
	roomCode, sessionID, _ := c.binding()
	if roomCode == "" {
		return nil, false
	}
	r := h.getRoom(roomCode)
	if r == nil {
		return nil, false
	}
	if sessionID != r.HostSessionID {
		return nil, false
	}
	return r, true
}

// getRoom looks a room up by code.
func (h *Hub) getRoom(code string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[code]
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// registerRoom inserts r under preferred if that code is free and
// well-formed, otherwise under freshly minted codes until one is free.
// Returns the code the room ended up with.
func (h *Hub) registerRoom(r *Room, preferred string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	code := preferred
	if !ident.ValidRoomCode(code) {
		code = ident.NewRoomCode()
	}
	for {
		if _, taken := h.rooms[code]; !taken {
			break
		}
		code = ident.NewRoomCode()
	}

	r.Code = code
	h.rooms[code] = r
	metrics.ActiveRooms.Inc()
	return code
}

// removeRoomIfSame removes the registry entry only if it still holds this
// exact Room. The identity check guards the timer races: a room terminated
// and re-minted under the same code must not be torn down by a stale timer.
func (h *Hub) removeRoomIfSame(r *Room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.Code] != r {
		return false
	}
	delete(h.rooms, r.Code)
	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.DeleteLabelValues(r.Code)
	return true
}

// terminateRoom removes the room and fans quiz_terminated out to everyone
// still attached. Safe to call from handlers and from timer callbacks; the
// registry identity check makes the losers of that race no-ops.
func (h *Hub) terminateRoom(r *Room, reason string) {
	if !h.removeRoomIfSame(r) {
		return
	}
	metrics.RoomsTerminated.WithLabelValues(reason).Inc()

	data := protocol.Encode(protocol.QuizTerminated{Type: protocol.TypeQuizTerminated})

	r.mu.Lock()
	r.terminated = true
	r.stopTimersLocked()
	r.broadcastPlayersLocked(data)
	r.notifyHostLocked(data)
	playerCount := len(r.players)
	r.mu.Unlock()

	ctx := context.WithValue(context.Background(), logging.RoomIDKey, r.Code)
	logging.Info(ctx, "room terminated", zap.String("reason", reason), zap.Int("players", playerCount))
}

// armExpiry starts the room's maximum-age timer.
func (h *Hub) armExpiry(r *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiryTimer = time.AfterFunc(h.cfg.RoomMaxAge, func() {
		h.terminateRoom(r, "expired")
	})
}

// hostGraceExpired fires when the host never came back. The host may have
// reattached after the timer was already scheduled to run, so re-check.
func (h *Hub) hostGraceExpired(r *Room) {
	r.mu.Lock()
	if r.host != nil || r.terminated {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	h.terminateRoom(r, "host_timeout")
}

// handleDisconnect is called by the read pump when a channel drops. Hosts
// get a grace period; players are only marked disconnected.
func (h *Hub) handleDisconnect(c *Client) {
	roomCode, sessionID, isHost := c.binding()
	if roomCode == "" {
		return
	}
	r := h.getRoom(roomCode)
	if r == nil {
		return
	}

	if isHost {
		r.mu.Lock()
		if r.host != c {
			// A newer channel already took over as host
			r.mu.Unlock()
			return
		}
		r.host = nil
		if !r.terminated {
			r.cancelGraceLocked()
			r.graceTimer = time.AfterFunc(h.cfg.HostDisconnectGrace, func() {
				h.hostGraceExpired(r)
			})
		}
		r.mu.Unlock()
		logging.Info(c.logContext(), "host disconnected, grace period armed")
		return
	}

	r.mu.Lock()
	p, ok := r.players[sessionID]
	if !ok || p.client != c {
		r.mu.Unlock()
		return
	}
	p.client = nil
	p.Connected = false
	r.notifyHostLocked(protocol.Encode(protocol.PlayerLeft{
		Type:        protocol.TypePlayerLeft,
		SessionID:   sessionID,
		Name:        p.Name,
		PlayerCount: len(r.players),
	}))
	r.mu.Unlock()

	logging.Info(c.logContext(), "player disconnected")
}

// Shutdown terminates every room with a final quiz_terminated and closes
// all channels.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		h.terminateRoom(r, "shutdown")
		r.closeChannels()
	}

	logging.Info(ctx, "all rooms closed", zap.Int("count", len(rooms)))
	return nil
}
