package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/skillmesh/chatsync/internal/metrics"
	"github.com/skillmesh/chatsync/internal/models"
)

const pingEvery = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS is the per-room subscription endpoint:
// GET /ws/rooms/{id}?user_id=...
//
// On connect the subscriber receives the room's presence snapshot, and a
// join delta is broadcast for them; on disconnect their presence record is
// removed and a leave delta broadcast. Message, typing and presence deltas
// are delivered in per-topic order for the connection's lifetime.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := newWSConn(conn, roomID, userID)
	h.hub.Add(c)
	metrics.WSConnections.Inc()

	if err := h.sendPresenceSnapshot(r.Context(), c); err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("ws presence snapshot failed")
	}

	// The subscriber joins the room's presence as a side effect of
	// subscribing.
	rec := models.PresenceRecord{
		UserID:   userID,
		Status:   models.PresenceOnline,
		LastSeen: time.Now().UTC(),
	}
	if err := h.redis.SetPresence(r.Context(), roomID, rec); err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Msg("ws presence store failed")
	}
	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicPresence, models.EventJoin, roomID, rec))

	go c.writeLoop()
	c.readLoop()

	h.hub.Remove(c)
	metrics.WSConnections.Dec()

	// Full removal, not a mark-offline: leaving the subscription leaves the
	// room's presence.
	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.redis.RemovePresence(teardownCtx, roomID, userID); err != nil {
		h.logger.Debug().Err(err).Str("room", roomID).Msg("ws presence remove failed")
	}
	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicPresence, models.EventLeave, roomID,
		models.PresenceRecord{UserID: userID}))

	_ = c.Close()
}

// sendPresenceSnapshot delivers the current presence map to one connection.
func (h *Handler) sendPresenceSnapshot(ctx context.Context, c *wsConn) error {
	records, err := h.redis.GetPresence(ctx, c.roomID)
	if err != nil {
		return err
	}
	return c.Send(models.NewEnvelope(models.TopicPresence, models.EventSnapshot, c.roomID, records))
}

// wsConn is one subscriber connection. Writes are serialized through sendMu;
// gorilla connections do not allow concurrent writers.
type wsConn struct {
	conn   *websocket.Conn
	roomID string
	userID string
	sendMu chan struct{}
	closed chan struct{}
}

func newWSConn(c *websocket.Conn, roomID, userID string) *wsConn {
	return &wsConn{
		conn:   c,
		roomID: roomID,
		userID: userID,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(env models.Envelope) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(env)
}

// readLoop consumes control frames until the peer goes away. Subscribers do
// not send data frames; writes go through the HTTP API.
func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return c.conn.Close()
}

func (c *wsConn) UserID() string { return c.userID }
func (c *wsConn) RoomID() string { return c.roomID }
