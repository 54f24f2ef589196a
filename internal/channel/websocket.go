package channel

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillmesh/chatsync/internal/models"
)

// readTimeout must exceed the relay's ping interval so an idle but healthy
// connection is never dropped.
const readTimeout = 60 * time.Second

// WSTransport connects to the relay's websocket subscription endpoint.
type WSTransport struct {
	// BaseURL is the relay root, e.g. "ws://localhost:8080".
	BaseURL string
	// UserID identifies the subscriber; the relay announces it in the room's
	// presence stream.
	UserID string

	Dialer *websocket.Dialer
}

// NewWSTransport creates a websocket transport.
func NewWSTransport(baseURL, userID string) *WSTransport {
	return &WSTransport{
		BaseURL: baseURL,
		UserID:  userID,
		Dialer:  websocket.DefaultDialer,
	}
}

var _ Transport = (*WSTransport)(nil)

// Connect dials the per-room subscription endpoint.
func (t *WSTransport) Connect(ctx context.Context, roomID string) (Conn, error) {
	u := fmt.Sprintf("%s/ws/rooms/%s?user_id=%s", t.BaseURL, url.PathEscape(roomID), url.QueryEscape(t.UserID))
	conn, _, err := t.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", roomID, err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEnvelope() (models.Envelope, error) {
	var env models.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return models.Envelope{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	return env, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
