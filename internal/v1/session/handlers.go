package session

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lernkartei/relay/internal/v1/ident"
	"github.com/lernkartei/relay/internal/v1/logging"
	"github.com/lernkartei/relay/internal/v1/metrics"
	"github.com/lernkartei/relay/internal/v1/protocol"
	"github.com/lernkartei/relay/internal/v1/sanitize"
)

// Question bounds. Out-of-range strings drop the whole frame; out-of-range
// numbers are clamped or defaulted.
const (
	maxQuestionRunes       = 4000
	maxOptions             = 20
	maxOptionRunes         = 500
	maxAnswerIndices       = 20
	defaultQuestionSeconds = 30
	maxQuestionSeconds     = 80
)

// handleCreateRoom mints a room and its host session for this channel.
func (h *Hub) handleCreateRoom(c *Client) {
	if c.ownsRoom() {
		c.sendError(protocol.ErrKindAlreadyHostingRoom)
		return
	}

	sessionID := ident.NewSessionID()
	r := newRoom(sessionID, c)
	code := h.registerRoom(r, "")
	h.armExpiry(r)

	c.bind(code, sessionID, true)
	c.markCreatedRoom()
	metrics.RoomsCreated.WithLabelValues("create").Inc()

	c.sendFrame(protocol.RoomCreated{
		Type:      protocol.TypeRoomCreated,
		RoomID:    code,
		SessionID: sessionID,
	})
	logging.Info(c.logContext(), "room created")
}

// handleReconnectHost reattaches a returning host, or cues the client to
// restore when the registry no longer holds the room.
func (h *Hub) handleReconnectHost(c *Client, m *protocol.ReconnectHost) {
	code := sanitize.RoomCode(m.RoomID)
	r := h.getRoom(code)
	if r == nil {
		if m.SessionID != "" {
			c.sendFrame(protocol.RoomNotFoundTryRestore{
				Type:      protocol.TypeRoomNotFoundTryRestore,
				RoomID:    code,
				SessionID: m.SessionID,
			})
			return
		}
		c.sendError(protocol.ErrKindRoomNotFound)
		return
	}
	if m.SessionID != r.HostSessionID {
		c.sendError(protocol.ErrKindInvalidSession)
		return
	}

	h.attachHost(c, r, false)
	logging.Info(c.logContext(), "host reconnected")
}

// attachHost makes c the room's host channel, displacing any zombie
// predecessor and cancelling the disconnect grace timer.
func (h *Hub) attachHost(c *Client, r *Room, restored bool) {
	r.mu.Lock()
	old := r.host
	r.host = c
	r.cancelGraceLocked()
	players := r.playerInfosLocked()
	r.mu.Unlock()

	if old != nil && old != c {
		old.Close()
	}

	c.bind(r.Code, r.HostSessionID, true)
	c.markCreatedRoom()
	c.sendFrame(protocol.HostReconnected{
		Type:       protocol.TypeHostReconnected,
		RoomID:     r.Code,
		Players:    players,
		IsRestored: restored,
	})
}

// handleRestoreRoom re-creates a room from the host's client-side snapshot
// after the server lost it.
func (h *Hub) handleRestoreRoom(c *Client, m *protocol.RestoreRoom) {
	if !c.restoreLimiter.Allow() {
		metrics.RateLimited.WithLabelValues("restore").Inc()
		c.sendError(protocol.ErrKindRestoreRateLimited)
		return
	}
	if !ident.ValidSessionID(m.SessionID) {
		c.sendError(protocol.ErrKindInvalidSession)
		return
	}

	code := sanitize.RoomCode(m.RoomID)
	if existing := h.getRoom(code); existing != nil {
		if existing.HostSessionID == m.SessionID {
			h.attachHost(c, existing, false)
			return
		}
		// Someone else owns this code now; the caller adopts a fresh one
		// from the response.
		code = ""
	}

	r := newRoom(m.SessionID, c)
	for _, snap := range m.Players {
		if len(r.players) >= h.cfg.MaxPlayersPerRoom {
			break
		}
		if !ident.ValidSessionID(snap.ID) {
			continue
		}
		if !snap.Score.Valid || !sanitize.ValidScore(snap.Score.Value) {
			continue
		}
		if _, dup := r.players[snap.ID]; dup {
			continue
		}
		r.players[snap.ID] = &Player{
			SessionID: snap.ID,
			Name:      sanitize.PlayerName(snap.Name),
			Score:     snap.Score.Value,
			Connected: false,
		}
	}

	code = h.registerRoom(r, code)
	h.armExpiry(r)
	metrics.RoomsCreated.WithLabelValues("restore").Inc()
	metrics.RoomPlayers.WithLabelValues(code).Set(float64(len(r.players)))

	c.bind(code, m.SessionID, true)
	c.markCreatedRoom()

	r.mu.Lock()
	players := r.playerInfosLocked()
	r.mu.Unlock()

	c.sendFrame(protocol.HostReconnected{
		Type:       protocol.TypeHostReconnected,
		RoomID:     code,
		Players:    players,
		IsRestored: true,
	})
	logging.Info(c.logContext(), "room restored from host snapshot", zap.Int("players", len(players)))
}

// handleJoin admits a new player or reattaches a returning one.
func (h *Hub) handleJoin(c *Client, m *protocol.Join) {
	code := sanitize.RoomCode(m.RoomCode)
	r := h.getRoom(code)
	if r == nil {
		c.sendError(protocol.ErrKindRoomNotFound)
		return
	}

	r.mu.Lock()

	if ident.ValidSessionID(m.SessionID) {
		if p, ok := r.players[m.SessionID]; ok {
			old := p.client
			p.client = c
			p.Connected = true
			name, score, count := p.Name, p.Score, len(r.players)
			r.notifyHostLocked(protocol.Encode(protocol.PlayerReconnected{
				Type:        protocol.TypePlayerReconnected,
				SessionID:   m.SessionID,
				Name:        name,
				Score:       score,
				PlayerCount: count,
			}))
			r.mu.Unlock()

			if old != nil && old != c {
				old.Close()
			}
			c.bind(code, m.SessionID, false)
			c.sendFrame(protocol.Joined{
				Type:        protocol.TypeJoined,
				SessionID:   m.SessionID,
				Score:       score,
				PlayerName:  name,
				IsReconnect: true,
			})
			logging.Info(c.logContext(), "player reconnected")
			return
		}
	}

	if len(r.players) >= h.cfg.MaxPlayersPerRoom {
		r.mu.Unlock()
		c.sendError(protocol.ErrKindRoomFull)
		return
	}

	sessionID := ident.NewSessionID()
	name := sanitize.PlayerName(m.PlayerName)
	r.players[sessionID] = &Player{
		SessionID: sessionID,
		Name:      name,
		Connected: true,
		client:    c,
	}
	count := len(r.players)
	r.notifyHostLocked(protocol.Encode(protocol.PlayerJoined{
		Type:        protocol.TypePlayerJoined,
		SessionID:   sessionID,
		Name:        name,
		PlayerCount: count,
	}))
	r.mu.Unlock()

	metrics.RoomPlayers.WithLabelValues(code).Set(float64(count))

	c.bind(code, sessionID, false)
	c.sendFrame(protocol.Joined{
		Type:        protocol.TypeJoined,
		SessionID:   sessionID,
		Score:       0,
		PlayerName:  name,
		IsReconnect: false,
	})
	logging.Info(c.logContext(), "player joined", zap.Int("playerCount", count))
}

// handleSubmitAnswer stamps a player's answer with the server clock and
// forwards it to the host. The client never supplies its own time.
func (h *Hub) handleSubmitAnswer(c *Client, m *protocol.SubmitAnswer) {
	roomCode, sessionID, isHost := c.binding()
	if roomCode == "" || isHost {
		c.sendError(protocol.ErrKindRoomNotActive)
		return
	}
	r := h.getRoom(roomCode)
	if r == nil {
		c.sendError(protocol.ErrKindRoomNotActive)
		return
	}

	var answer []int
	if m.AnswerData == nil || json.Unmarshal(m.AnswerData, &answer) != nil {
		return // not an array of indices: drop silently
	}
	if answer == nil || len(answer) > maxAnswerIndices {
		return
	}

	now := time.Now()

	r.mu.Lock()
	p, ok := r.players[sessionID]
	if !ok {
		r.mu.Unlock()
		c.sendError(protocol.ErrKindPlayerNotFound)
		return
	}
	frame := protocol.PlayerAnswered{
		Type:       protocol.TypePlayerAnswered,
		SessionID:  sessionID,
		Name:       p.Name,
		AnswerData: answer,
		AnswerTime: now.UnixMilli(),
	}
	if !r.questionStart.IsZero() {
		elapsed := now.Sub(r.questionStart).Milliseconds()
		frame.ElapsedMs = &elapsed
	}
	r.notifyHostLocked(protocol.Encode(frame))
	r.mu.Unlock()
}

// handleStartQuestion records the authoritative start time and broadcasts
// the question to every connected player. The startTime on the wire is the
// server's; clients derive their local timers from it.
func (h *Hub) handleStartQuestion(r *Room, m *protocol.StartQuestion) {
	if utf8.RuneCountInString(m.Question) > maxQuestionRunes {
		return
	}
	if len(m.Options) > maxOptions {
		return
	}
	for _, opt := range m.Options {
		if utf8.RuneCountInString(opt) > maxOptionRunes {
			return
		}
	}

	duration := defaultQuestionSeconds
	if m.Duration.Valid {
		if d := int(m.Duration.Value); d >= 1 && d <= maxQuestionSeconds {
			duration = d
		}
	}
	index := 0
	if m.Index.Valid && m.Index.Value >= 0 {
		index = int(m.Index.Value)
	}
	total := 1
	if m.Total.Valid && int(m.Total.Value) >= 1 {
		total = int(m.Total.Value)
	}
	options := m.Options
	if options == nil {
		options = []string{}
	}

	now := time.Now()

	r.mu.Lock()
	r.questionStart = now
	r.questionIndex = index
	r.broadcastPlayersLocked(protocol.Encode(protocol.Question{
		Type:      protocol.TypeQuestion,
		Question:  m.Question,
		Options:   options,
		Index:     index,
		Total:     total,
		StartTime: now.UnixMilli(),
		Duration:  duration,
	}))
	r.mu.Unlock()

	ctx := context.WithValue(context.Background(), logging.RoomIDKey, r.Code)
	logging.Info(ctx, "question broadcast", zap.Int("index", index), zap.Int("duration", duration))
}

// handleSendResults applies the host's score updates and sends each
// connected player a personalized result.
func (h *Hub) handleSendResults(r *Room, m *protocol.SendResults) {
	correct := m.Correct
	if correct == nil {
		correct = []int{}
	}
	leaderboard := sanitizeLeaderboard(m.Leaderboard, h.cfg.MaxPlayersPerRoom)

	r.mu.Lock()
	for sid, score := range m.PlayerScores {
		if !score.Valid || !sanitize.ValidScore(score.Value) {
			continue
		}
		if p, ok := r.players[sid]; ok {
			p.Score = score.Value
		}
	}
	r.questionStart = time.Time{} // question round is over
	questionIndex := r.questionIndex
	for _, p := range r.players {
		if p.client == nil || !p.Connected {
			continue
		}
		p.client.enqueue(protocol.Encode(protocol.Result{
			Type:          protocol.TypeResult,
			Correct:       correct,
			IsFinal:       m.IsFinal,
			QuestionIndex: questionIndex,
			Leaderboard:   leaderboard,
			PlayerScore:   p.Score,
		}))
	}
	r.mu.Unlock()
}

// sanitizeLeaderboard bounds and cleans a host-supplied leaderboard before
// it is echoed to players.
func sanitizeLeaderboard(entries []protocol.LeaderboardEntry, max int) []protocol.LeaderboardEntry {
	if entries == nil {
		return nil
	}
	if len(entries) > max {
		entries = entries[:max]
	}
	out := make([]protocol.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Score.Valid || !sanitize.ValidScore(e.Score.Value) {
			continue
		}
		out = append(out, protocol.LeaderboardEntry{
			Name:  sanitize.PlayerName(e.Name),
			Score: e.Score,
		})
	}
	return out
}
