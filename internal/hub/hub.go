// Package hub fans events out to a room's open subscriptions.
package hub

import (
	"sync"

	"github.com/skillmesh/chatsync/internal/metrics"
	"github.com/skillmesh/chatsync/internal/models"
)

// Conn is one subscriber connection.
type Conn interface {
	Send(env models.Envelope) error
	Close() error
	UserID() string
	RoomID() string
}

// Hub tracks the connections subscribed to each room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]struct{} // roomID -> set of connections
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]map[Conn]struct{})}
}

// Add registers a connection under its room.
func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[c.RoomID()]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[c.RoomID()] = rs
	}
	rs[c] = struct{}{}
}

// Remove drops a connection; empty rooms are released.
func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[c.RoomID()]; ok {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, c.RoomID())
		}
	}
}

// Broadcast sends an envelope to every connection in the room, best-effort.
func (h *Hub) Broadcast(roomID string, env models.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.rooms[roomID]; ok {
		for c := range rs {
			_ = c.Send(env)
		}
		if len(rs) > 0 {
			metrics.EventsBroadcast.WithLabelValues(string(env.Topic)).Inc()
		}
	}
}
