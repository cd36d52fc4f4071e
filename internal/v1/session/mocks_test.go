package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lernkartei/relay/internal/v1/config"
	"github.com/lernkartei/relay/internal/v1/protocol"
)

// mockConn implements wsConnection for tests. Inbound frames are fed
// through a channel; outbound writes are recorded.
type mockConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
}

func newMockConn() *mockConn {
	return &mockConn{inbound: make(chan []byte, 128)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write on closed connection")
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) writtenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

func (m *mockConn) SetReadLimit(int64)                {}
func (m *mockConn) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

func testConfig() *config.Config {
	return &config.Config{
		Port:                "8080",
		MaxPlayersPerRoom:   config.DefaultMaxPlayersPerRoom,
		RoomMaxAge:          config.DefaultRoomMaxAge,
		HostDisconnectGrace: config.DefaultHostDisconnectGrace,
	}
}

func newTestHub(mutate func(*config.Config)) *Hub {
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewHub(cfg, nil)
}

func newTestClient(h *Hub) (*Client, *mockConn) {
	mc := newMockConn()
	return newClient(h, mc, "192.0.2.1"), mc
}

// recvFrame pops the next queued outbound frame as a generic JSON object.
// Handlers enqueue synchronously, so by the time a handler returns the
// frame is already buffered.
func recvFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send queue closed while a frame was expected")
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func requireNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame queued: %s", data)
	default:
	}
}

// createTestRoom drives create_room through dispatch and returns the host
// channel with its room code and session.
func createTestRoom(t *testing.T, h *Hub) (host *Client, code, sessionID string) {
	t.Helper()
	host, _ = newTestClient(h)
	h.dispatch(host, &protocol.CreateRoom{})
	frame := recvFrame(t, host)
	require.Equal(t, "room_created", frame["type"])
	return host, frame["roomId"].(string), frame["sessionId"].(string)
}

// joinTestRoom drives join through dispatch and returns the player channel
// with its session. The host's player_joined notification is consumed.
func joinTestRoom(t *testing.T, h *Hub, host *Client, code, name string) (player *Client, sessionID string) {
	t.Helper()
	player, _ = newTestClient(h)
	h.dispatch(player, &protocol.Join{RoomCode: code, PlayerName: name})
	frame := recvFrame(t, player)
	require.Equal(t, "joined", frame["type"])
	require.False(t, frame["isReconnect"].(bool))
	hostFrame := recvFrame(t, host)
	require.Equal(t, "player_joined", hostFrame["type"])
	return player, frame["sessionId"].(string)
}
