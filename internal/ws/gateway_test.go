package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newSocketPair upgrades one real WebSocket and returns both ends: the
// server-side clientConn the gateway works with and the client-side conn the
// test reads from.
func newSocketPair(t *testing.T) (*clientConn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srvConns := make(chan *clientConn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error("upgrade:", err)
			return
		}
		srvConns <- &clientConn{id: uuid.NewString(), rawConn: raw}
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-srvConns:
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("no server-side connection")
		return nil, nil
	}
}

func readFrame(t *testing.T, client *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, client.ReadJSON(&f))
	return f
}

func assertNoFrame(t *testing.T, client *websocket.Conn) {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var f Frame
	require.Error(t, client.ReadJSON(&f))
}

func TestBroadcastOnlyToRoomMembers(t *testing.T) {
	g := NewGateway(zap.NewNop())

	connA, clientA := newSocketPair(t)
	connB, clientB := newSocketPair(t)
	connC, clientC := newSocketPair(t)

	g.Join("analytics:c1", connA)
	g.Join("analytics:c1", connB)
	g.Join("monitor:m1", connC)

	g.Broadcast("analytics:c1", "SESSION_UPDATE", map[string]string{"sessionId": "s1"})

	for _, client := range []*websocket.Conn{clientA, clientB} {
		f := readFrame(t, client)
		require.Equal(t, "SESSION_UPDATE", f.EventType)
	}
	assertNoFrame(t, clientC)
}

func TestBroadcastToUnknownRoomIsNoop(t *testing.T) {
	g := NewGateway(zap.NewNop())
	g.Broadcast("analytics:none", "SESSION_UPDATE", nil) // must not panic
}

func TestBroadcastToleratesDeadSocket(t *testing.T) {
	g := NewGateway(zap.NewNop())

	connA, _ := newSocketPair(t)
	connB, clientB := newSocketPair(t)

	g.Join("analytics:c1", connA)
	g.Join("analytics:c1", connB)
	require.Equal(t, 2, g.SocketCount())

	// Kill A's transport; the next broadcast must still reach B and evict A.
	require.NoError(t, connA.rawConn.Close())
	g.Broadcast("analytics:c1", "NEW_ALERT", map[string]string{"id": "a1"})

	f := readFrame(t, clientB)
	require.Equal(t, "NEW_ALERT", f.EventType)
	require.Equal(t, 1, g.SocketCount())
}

func TestLeaveStopsDelivery(t *testing.T) {
	g := NewGateway(zap.NewNop())

	conn, client := newSocketPair(t)
	g.Join("analytics:c1", conn)
	g.Leave("analytics:c1", conn)

	g.Broadcast("analytics:c1", "SESSION_UPDATE", nil)
	assertNoFrame(t, client)
	require.Zero(t, g.SocketCount())
}

func TestEmptiedRoomsAreEvicted(t *testing.T) {
	g := NewGateway(zap.NewNop())

	conn, _ := newSocketPair(t)

	// Churn through many rooms; none of them may leave a dead entry behind.
	for i := 0; i < 50; i++ {
		roomID := "analytics:" + uuid.NewString()
		g.Join(roomID, conn)
		g.Leave(roomID, conn)

		g.mu.Lock()
		_, stale := g.rooms[roomID]
		g.mu.Unlock()
		require.False(t, stale, "room entry survived after last member left")
	}
	require.Zero(t, g.RoomCount())

	// Re-joining an evicted room works like a fresh one.
	g.Join("analytics:fresh", conn)
	require.Equal(t, 1, g.RoomCount())
}

func TestLeaveAllClearsEveryRoom(t *testing.T) {
	g := NewGateway(zap.NewNop())

	conn, client := newSocketPair(t)
	g.Join("analytics:c1", conn)
	g.Join("monitor:m1", conn)
	require.Equal(t, 1, g.SocketCount())
	require.Equal(t, 2, g.RoomCount())

	g.LeaveAll(conn)
	require.Zero(t, g.SocketCount())
	require.Zero(t, g.RoomCount())

	g.Broadcast("analytics:c1", "SESSION_UPDATE", nil)
	g.Broadcast("monitor:m1", "MONITOR_STATUS", nil)
	assertNoFrame(t, client)
}
