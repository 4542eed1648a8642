package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Frame is the outbound shape for every room broadcast.
type Frame struct {
	EventType string `json:"eventType"`
	Payload   any    `json:"payload"`
}

// Gateway keeps per-process room membership and pushes broadcasts to the
// sockets connected to this instance. Cross-process fan-out happens upstream:
// every instance receives each broker event and broadcasts to its own local
// members, so the union of local broadcasts covers the whole room.
//
// A room exists only while it has local members; the last leave evicts the
// map entry so a long-running process does not accumulate dead rooms.
type Gateway struct {
	log *zap.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	joined map[*clientConn]map[string]struct{} // conn ➜ room ids, for disconnect cleanup
}

func NewGateway(log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.L()
	}
	return &Gateway{
		log:    log,
		rooms:  make(map[string]*room),
		joined: make(map[*clientConn]map[string]struct{}),
	}
}

func (g *Gateway) Join(roomID string, c *clientConn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		r = newRoom()
		g.rooms[roomID] = r
	}
	r.add(c)

	if g.joined[c] == nil {
		g.joined[c] = make(map[string]struct{})
	}
	g.joined[c][roomID] = struct{}{}
}

func (g *Gateway) Leave(roomID string, c *clientConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(roomID, c)

	if set, ok := g.joined[c]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(g.joined, c)
		}
	}
}

// LeaveAll removes the connection from every room it joined. Called on socket
// disconnect and when a send to the socket fails.
func (g *Gateway) LeaveAll(c *clientConn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for roomID := range g.joined[c] {
		g.leaveLocked(roomID, c)
	}
	delete(g.joined, c)
}

func (g *Gateway) leaveLocked(roomID string, c *clientConn) {
	r, ok := g.rooms[roomID]
	if !ok {
		return
	}
	r.remove(c)
	if r.size() == 0 {
		delete(g.rooms, roomID)
	}
}

// Broadcast sends {eventType, payload} to every local member of the room.
// Sockets that fail to take the write are dropped from all rooms and closed.
func (g *Gateway) Broadcast(roomID, eventType string, payload any) {
	g.mu.Lock()
	r := g.rooms[roomID]
	g.mu.Unlock()
	if r == nil {
		return
	}

	msg, err := json.Marshal(Frame{EventType: eventType, Payload: payload})
	if err != nil {
		g.log.Error("ws.broadcast_marshal", zap.String("room", roomID), zap.Error(err))
		return
	}

	for _, c := range r.broadcast(msg) {
		g.log.Debug("ws.broadcast_send_failed",
			zap.String("room", roomID), zap.String("socket", c.id))
		g.LeaveAll(c)
		_ = c.rawConn.Close()
	}
}

// SocketCount reports locally-connected sockets with at least one room.
func (g *Gateway) SocketCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.joined)
}

// RoomCount reports rooms with at least one local member.
func (g *Gateway) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
