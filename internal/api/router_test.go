package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmesh/chatsync/internal/hub"
	"github.com/skillmesh/chatsync/internal/models"
	"github.com/skillmesh/chatsync/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	redisStore := store.NewRedisStoreFromClient(client)

	profiles, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(profiles.Close)

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), redisStore, profiles, hub.New()))
	t.Cleanup(srv.Close)
	return srv
}

// The upgrade has to make it through the full middleware chain, not just a
// bare handler.
func TestWebSocketUpgradeThroughRouter(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/r1?user_id=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "websocket handshake failed through the router")
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// First frame is the presence snapshot, then our own join.
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, models.TopicPresence, env.Topic)
	assert.Equal(t, models.EventSnapshot, env.Type)
	assert.Equal(t, "r1", env.RoomID)

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, models.TopicPresence, env.Topic)
	assert.Equal(t, models.EventJoin, env.Type)
}

func TestWebSocketReceivesPostedMessage(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/r1?user_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// Drain the snapshot and the join for our own connection.
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.NoError(t, conn.ReadJSON(&env))

	body := strings.NewReader(`{"sender_id":"bob","content":"hi there","client_ref":"ref-42"}`)
	resp, err := http.Post(srv.URL+"/rooms/r1/messages", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, models.TopicMessages, env.Topic)
	assert.Equal(t, models.EventInsert, env.Type)

	var msg models.Message
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, "ref-42", msg.ClientRef)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, models.StatusSent, msg.Status)
}
