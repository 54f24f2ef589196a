package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmesh/chatsync/internal/backend"
	"github.com/skillmesh/chatsync/internal/cache"
	"github.com/skillmesh/chatsync/internal/channel"
	"github.com/skillmesh/chatsync/internal/config"
	"github.com/skillmesh/chatsync/internal/models"
)

// fakeConn is an in-memory event stream fed by the test.
type fakeConn struct {
	ch        chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		ch:   make(chan models.Envelope, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEnvelope() (models.Envelope, error) {
	select {
	case env := <-c.ch:
		return env, nil
	case <-c.done:
		return models.Envelope{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

type fakeTransport struct {
	conn *fakeConn
	err  error
}

func (t *fakeTransport) Connect(_ context.Context, _ string) (channel.Conn, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

// fakeBackend records write calls and serves canned history.
type fakeBackend struct {
	mu         sync.Mutex
	history    []models.Message
	sendErr    error
	reactErr   error
	markErr    error
	fetchCalls int
	presence   []models.PresenceStatus
	nextID     int
}

func (b *fakeBackend) SendMessage(_ context.Context, p backend.SendParams) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.nextID++
	now := time.Now().UTC()
	return &models.Message{
		ID:        fmt.Sprintf("srv-%d", b.nextID),
		RoomID:    p.RoomID,
		SenderID:  p.SenderID,
		Content:   p.Content,
		Kind:      p.Kind,
		Status:    models.StatusSent,
		ClientRef: p.ClientRef,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (b *fakeBackend) FetchMessages(_ context.Context, _ string, _ int, _ time.Time) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchCalls++
	out := make([]models.Message, len(b.history))
	copy(out, b.history)
	return out, nil
}

func (b *fakeBackend) SetReaction(_ context.Context, _, _, _, _ string) error   { return b.reactErr }
func (b *fakeBackend) UnsetReaction(_ context.Context, _, _, _, _ string) error { return b.reactErr }

func (b *fakeBackend) MarkRead(_ context.Context, _ string, _ []string, _ string) error {
	return b.markErr
}

func (b *fakeBackend) UpsertTyping(_ context.Context, _, _ string, _ time.Duration) error { return nil }
func (b *fakeBackend) ClearTyping(_ context.Context, _, _ string) error                   { return nil }

func (b *fakeBackend) TrackPresence(_ context.Context, _, _ string, status models.PresenceStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence = append(b.presence, status)
	return nil
}

func (b *fakeBackend) FetchProfile(_ context.Context, userID string) (*models.Profile, error) {
	return &models.Profile{UserID: userID, FullName: "Test User"}, nil
}

func (b *fakeBackend) fetches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchCalls
}

func newTestSession(t *testing.T, be *fakeBackend, conn *fakeConn) (*Session, cache.Store) {
	t.Helper()
	mem := cache.NewMemory()
	ch := channel.New(&fakeTransport{conn: conn}, zerolog.Nop())
	s := NewSession("r1", "self", be, ch, mem, config.DefaultSync(), zerolog.Nop())
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(s.Close)
	return s, mem
}

func TestSessionOpenLoadsHistoryAndAnnouncesPresence(t *testing.T) {
	now := time.Now().UTC()
	be := &fakeBackend{history: []models.Message{
		canonicalMsg("m1", "bob", "hello", now),
		canonicalMsg("m2", "bob", "world", now.Add(time.Second)),
	}}
	s, _ := newTestSession(t, be, newFakeConn())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	be.mu.Lock()
	defer be.mu.Unlock()
	require.Len(t, be.presence, 1)
	assert.Equal(t, models.PresenceOnline, be.presence[0])
}

func TestSessionSendMessageReconcilesEcho(t *testing.T) {
	be := &fakeBackend{}
	s, mem := newTestSession(t, be, newFakeConn())

	sent, err := s.SendMessage(context.Background(), "hi there", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", sent.ID)
	assert.NotEmpty(t, sent.ClientRef)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, models.StatusSent, msgs[0].Status)

	// The room's cached page was invalidated by the write.
	_, err = mem.Get(context.Background(), cache.RoomMessagesKey("r1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestSessionSendMessageFailureLeavesNoGhost(t *testing.T) {
	be := &fakeBackend{sendErr: errors.New("relay down")}
	s, _ := newTestSession(t, be, newFakeConn())

	_, err := s.SendMessage(context.Background(), "doomed", SendOptions{})
	require.Error(t, err)
	assert.Empty(t, s.Messages())
}

func TestSessionStreamEchoAfterWriteResponseIsDuplicate(t *testing.T) {
	be := &fakeBackend{}
	conn := newFakeConn()
	s, _ := newTestSession(t, be, conn)

	sent, err := s.SendMessage(context.Background(), "hi", SendOptions{})
	require.NoError(t, err)

	// The same canonical record also arrives on the delta stream.
	conn.ch <- models.NewEnvelope(models.TopicMessages, models.EventInsert, "r1", sent)

	assert.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == sent.ID
	}, time.Second, 10*time.Millisecond)

	// Give the loop a beat; the count must not grow.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.Messages(), 1)
}

func TestSessionAppliesStreamDeltas(t *testing.T) {
	be := &fakeBackend{}
	conn := newFakeConn()
	s, _ := newTestSession(t, be, conn)

	remote := canonicalMsg("m1", "bob", "from the stream", time.Now().UTC())
	conn.ch <- models.NewEnvelope(models.TopicMessages, models.EventInsert, "r1", remote)

	conn.ch <- models.NewEnvelope(models.TopicTyping, models.EventUpsert, "r1", models.TypingIndicator{
		RoomID:    "r1",
		UserID:    "bob",
		IsTyping:  true,
		ExpiresAt: time.Now().Add(10 * time.Second),
	})

	conn.ch <- models.NewEnvelope(models.TopicPresence, models.EventSnapshot, "r1", []models.PresenceRecord{
		{UserID: "bob", Status: models.PresenceOnline, LastSeen: time.Now().UTC()},
	})

	assert.Eventually(t, func() bool {
		return len(s.Messages()) == 1 &&
			len(s.TypingUsers()) == 1 &&
			len(s.Presence()) == 1
	}, time.Second, 10*time.Millisecond)

	conn.ch <- models.NewEnvelope(models.TopicPresence, models.EventLeave, "r1",
		models.PresenceRecord{UserID: "bob"})

	assert.Eventually(t, func() bool {
		return len(s.Presence()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSessionMessageUpdateFromStream(t *testing.T) {
	now := time.Now().UTC()
	be := &fakeBackend{history: []models.Message{canonicalMsg("m1", "bob", "hello", now)}}
	conn := newFakeConn()
	s, _ := newTestSession(t, be, conn)

	updated := canonicalMsg("m1", "bob", "hello", now)
	updated.Status = models.StatusRead
	updated.ReadBy = []string{"self"}
	conn.ch <- models.NewEnvelope(models.TopicMessages, models.EventUpdate, "r1", updated)

	assert.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.StatusRead
	}, time.Second, 10*time.Millisecond)
}

func TestSessionReactionFailureRefreshes(t *testing.T) {
	now := time.Now().UTC()
	be := &fakeBackend{
		history:  []models.Message{canonicalMsg("m1", "bob", "hello", now)},
		reactErr: errors.New("rejected"),
	}
	s, _ := newTestSession(t, be, newFakeConn())

	before := be.fetches()
	err := s.AddReaction(context.Background(), "m1", "thumbs")
	require.Error(t, err)

	// Rollback is a re-fetch of authoritative state, not a partial undo.
	assert.Equal(t, before+1, be.fetches())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Reactions)
}

func TestSessionMarkRead(t *testing.T) {
	now := time.Now().UTC()
	be := &fakeBackend{history: []models.Message{canonicalMsg("m1", "bob", "hello", now)}}
	s, _ := newTestSession(t, be, newFakeConn())

	require.NoError(t, s.MarkRead(context.Background(), "m1"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"self"}, msgs[0].ReadBy)

	// Empty call is a no-op.
	assert.NoError(t, s.MarkRead(context.Background()))
}

func TestSessionProfileCached(t *testing.T) {
	be := &fakeBackend{}
	s, _ := newTestSession(t, be, newFakeConn())

	p, err := s.Profile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Test User", p.FullName)

	p2, err := s.Profile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestSessionCloseTearsDownCompletely(t *testing.T) {
	be := &fakeBackend{}
	conn := newFakeConn()
	s, _ := newTestSession(t, be, conn)

	conn.ch <- models.NewEnvelope(models.TopicPresence, models.EventJoin, "r1",
		models.PresenceRecord{UserID: "bob", Status: models.PresenceOnline})
	assert.Eventually(t, func() bool {
		return len(s.Presence()) == 1
	}, time.Second, 10*time.Millisecond)

	s.Close()
	s.Close() // idempotent

	assert.Empty(t, s.Presence())

	// The state stream drains to a final Disconnected and then closes.
	var last channel.ConnState
	for st := range s.States() {
		last = st
	}
	assert.Equal(t, channel.Disconnected, last)
}

func TestSessionSubscribeFailure(t *testing.T) {
	mem := cache.NewMemory()
	ch := channel.New(&fakeTransport{err: errors.New("dial failed")}, zerolog.Nop())
	s := NewSession("r1", "self", &fakeBackend{}, ch, mem, config.DefaultSync(), zerolog.Nop())

	err := s.Open(context.Background())
	require.Error(t, err)

	// Without a subscription the state stream is already closed, not nil.
	st, open := <-s.States()
	assert.False(t, open)
	assert.Equal(t, channel.Disconnected, st)
}

func TestSessionStatesBeforeOpen(t *testing.T) {
	mem := cache.NewMemory()
	ch := channel.New(&fakeTransport{conn: newFakeConn()}, zerolog.Nop())
	s := NewSession("r1", "self", &fakeBackend{}, ch, mem, config.DefaultSync(), zerolog.Nop())

	select {
	case _, open := <-s.States():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("States blocked before Open")
	}
}
