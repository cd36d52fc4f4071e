package session

import (
	"sort"
	"sync"
	"time"

	"github.com/lernkartei/relay/internal/v1/protocol"
)

// Player is one participant's record. Players are never removed while the
// room lives; a dropped channel only flips Connected.
type Player struct {
	SessionID string
	Name      string
	Score     float64
	Connected bool
	client    *Client
}

// Room is the runtime container for one quiz session. Code and
// HostSessionID are immutable once the room is registered; everything else
// is guarded by mu. Methods with the Locked suffix assume mu is held.
type Room struct {
	Code          string
	HostSessionID string

	mu            sync.Mutex
	host          *Client
	players       map[string]*Player
	createdAt     time.Time
	questionStart time.Time // zero between questions
	questionIndex int
	expiryTimer   *time.Timer
	graceTimer    *time.Timer
	terminated    bool
}

func newRoom(hostSessionID string, host *Client) *Room {
	return &Room{
		HostSessionID: hostSessionID,
		host:          host,
		players:       make(map[string]*Player),
		createdAt:     time.Now(),
	}
}

// PlayerCount returns the number of registered players, connected or not.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// playerInfosLocked snapshots the player table for host-bound frames.
// Sorted by session ID so responses are stable.
func (r *Room) playerInfosLocked() []protocol.PlayerInfo {
	infos := make([]protocol.PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		infos = append(infos, protocol.PlayerInfo{
			SessionID:   p.SessionID,
			Name:        p.Name,
			Score:       p.Score,
			IsConnected: p.Connected,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// broadcastPlayersLocked fans a frame out to every connected player.
func (r *Room) broadcastPlayersLocked(data []byte) {
	for _, p := range r.players {
		if p.client != nil && p.Connected {
			p.client.enqueue(data)
		}
	}
}

// notifyHostLocked sends a frame to the host channel if one is attached.
func (r *Room) notifyHostLocked(data []byte) {
	if r.host != nil {
		r.host.enqueue(data)
	}
}

func (r *Room) cancelGraceLocked() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

func (r *Room) stopTimersLocked() {
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	r.cancelGraceLocked()
}

// closeChannels closes every attached channel. Used only on graceful
// shutdown; queued frames are flushed before the close frame.
func (r *Room) closeChannels() {
	r.mu.Lock()
	var clients []*Client
	if r.host != nil {
		clients = append(clients, r.host)
	}
	for _, p := range r.players {
		if p.client != nil {
			clients = append(clients, p.client)
		}
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
