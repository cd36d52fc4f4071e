package session

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lernkartei/relay/internal/v1/config"
	"github.com/lernkartei/relay/internal/v1/ident"
	"github.com/lernkartei/relay/internal/v1/protocol"
)

func TestRegisterRoomMintsUniqueCodes(t *testing.T) {
	h := newTestHub(nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		c, _ := newTestClient(h)
		r := newRoom(ident.NewSessionID(), c)
		code := h.registerRoom(r, "")
		assert.True(t, ident.ValidRoomCode(code))
		assert.False(t, seen[code], "code %s minted twice", code)
		seen[code] = true
	}
	assert.Equal(t, 50, h.RoomCount())
}

func TestRegisterRoomPreferredCode(t *testing.T) {
	h := newTestHub(nil)
	c, _ := newTestClient(h)

	r1 := newRoom(ident.NewSessionID(), c)
	assert.Equal(t, "AB12", h.registerRoom(r1, "AB12"))

	// Taken: the second room gets a fresh code.
	r2 := newRoom(ident.NewSessionID(), c)
	assert.NotEqual(t, "AB12", h.registerRoom(r2, "AB12"))

	// Malformed preferred codes are ignored.
	r3 := newRoom(ident.NewSessionID(), c)
	code := h.registerRoom(r3, "nope!")
	assert.True(t, ident.ValidRoomCode(code))
}

func TestRemoveRoomIfSameIdentity(t *testing.T) {
	h := newTestHub(nil)
	c, _ := newTestClient(h)

	stale := newRoom(ident.NewSessionID(), c)
	code := h.registerRoom(stale, "")
	require.True(t, h.removeRoomIfSame(stale))

	// A new room re-registered under the same code must survive the stale
	// room's timers.
	fresh := newRoom(ident.NewSessionID(), c)
	h.registerRoom(fresh, code)
	assert.False(t, h.removeRoomIfSame(stale))
	assert.Equal(t, fresh, h.getRoom(code))
}

func TestRoomExpiry(t *testing.T) {
	h := newTestHub(func(c *config.Config) { c.RoomMaxAge = 20 * time.Millisecond })
	host, code, _ := createTestRoom(t, h)
	player, _ := joinTestRoom(t, h, host, code, "Mia")

	assert.Eventually(t, func() bool { return h.RoomCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "quiz_terminated", recvFrame(t, player)["type"])
	assert.Equal(t, "quiz_terminated", recvFrame(t, host)["type"])
}

func TestHostGraceTimeout(t *testing.T) {
	h := newTestHub(func(c *config.Config) { c.HostDisconnectGrace = 20 * time.Millisecond })
	host, code, _ := createTestRoom(t, h)
	player, _ := joinTestRoom(t, h, host, code, "Mia")

	h.handleDisconnect(host)

	assert.Eventually(t, func() bool { return h.RoomCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "quiz_terminated", recvFrame(t, player)["type"])
}

func TestHostReturnsWithinGrace(t *testing.T) {
	h := newTestHub(func(c *config.Config) { c.HostDisconnectGrace = 150 * time.Millisecond })
	host, code, hostSID := createTestRoom(t, h)

	h.handleDisconnect(host)

	again, _ := newTestClient(h)
	h.dispatch(again, &protocol.ReconnectHost{RoomID: code, SessionID: hostSID})
	require.Equal(t, "host_reconnected", recvFrame(t, again)["type"])

	// The grace timer was cancelled; the room outlives the deadline.
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, h.RoomCount())
}

func TestReconnectHostDisplacesZombieChannel(t *testing.T) {
	h := newTestHub(nil)
	host, code, hostSID := createTestRoom(t, h)

	// The old channel never disconnected; a second device takes over.
	again, _ := newTestClient(h)
	h.dispatch(again, &protocol.ReconnectHost{RoomID: code, SessionID: hostSID})
	require.Equal(t, "host_reconnected", recvFrame(t, again)["type"])

	// The zombie's queue is closed and the room routes to the new channel.
	_, ok := <-host.send
	assert.False(t, ok)

	player, _ := newTestClient(h)
	h.dispatch(player, &protocol.Join{RoomCode: code, PlayerName: "Mia"})
	recvFrame(t, player)
	assert.Equal(t, "player_joined", recvFrame(t, again)["type"])
}

func TestPlayerDisconnectNotifiesHost(t *testing.T) {
	h := newTestHub(nil)
	host, code, _ := createTestRoom(t, h)
	player, sid := joinTestRoom(t, h, host, code, "Mia")

	h.handleDisconnect(player)

	frame := recvFrame(t, host)
	assert.Equal(t, "player_left", frame["type"])
	assert.Equal(t, sid, frame["sessionId"])
	assert.Equal(t, "Mia", frame["name"])
	// The seat is kept; the count does not drop.
	assert.Equal(t, float64(1), frame["playerCount"])
	assert.Equal(t, 1, h.getRoom(code).PlayerCount())
}

func TestDisconnectOfStaleChannelIgnored(t *testing.T) {
	h := newTestHub(nil)
	host, code, _ := createTestRoom(t, h)
	player, sid := joinTestRoom(t, h, host, code, "Mia")

	// The player reconnects on a new channel before the old one's read pump
	// reports the drop.
	again, _ := newTestClient(h)
	h.dispatch(again, &protocol.Join{RoomCode: code, SessionID: sid})
	recvFrame(t, again)
	recvFrame(t, host) // player_reconnected

	h.handleDisconnect(player)

	requireNoFrame(t, host)
	r := h.getRoom(code)
	r.mu.Lock()
	connected := r.players[sid].Connected
	r.mu.Unlock()
	assert.True(t, connected)
}

func TestShutdownTerminatesAllRooms(t *testing.T) {
	h := newTestHub(nil)
	host1, code1, _ := createTestRoom(t, h)
	player, _ := joinTestRoom(t, h, host1, code1, "Mia")
	host2, _, _ := createTestRoom(t, h)

	require.NoError(t, h.Shutdown(t.Context()))

	assert.Equal(t, 0, h.RoomCount())
	for _, c := range []*Client{host1, player, host2} {
		frame := recvFrame(t, c)
		assert.Equal(t, "quiz_terminated", frame["type"])
		// Queue closed after the final frame.
		_, ok := <-c.send
		assert.False(t, ok)
	}
}

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		name    string
		allowed string
		origin  string
		want    bool
	}{
		{"no allowlist admits all", "", "https://evil.example", true},
		{"no origin header admits", "https://app.example", "", true},
		{"exact match", "https://app.example", "https://app.example", true},
		{"list match", "https://a.example, https://b.example", "https://b.example", true},
		{"mismatch", "https://app.example", "https://evil.example", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHub(func(c *config.Config) { c.AllowedOrigins = tc.allowed })
			req := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, h.checkOrigin(req))
		})
	}
}
