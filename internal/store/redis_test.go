package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmesh/chatsync/internal/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func addMsg(t *testing.T, s *RedisStore, roomID, sender, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		RoomID:    roomID,
		SenderID:  sender,
		Content:   content,
		Kind:      models.KindText,
		CreatedAt: at,
	}
	require.NoError(t, s.AddMessage(context.Background(), msg))
	return msg
}

func TestAddMessageAssignsIDAndStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{
		RoomID:   "r1",
		SenderID: "alice",
		Content:  "hello",
		Kind:     models.KindText,
		Status:   models.StatusSending,
	}
	require.NoError(t, s.AddMessage(ctx, msg))

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := s.GetMessage(ctx, "r1", msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Content)
}

func TestAddMessagePreservesClientRef(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{RoomID: "r1", SenderID: "alice", Content: "hi", ClientRef: "ref-abc"}
	require.NoError(t, s.AddMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "r1", msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ref-abc", got.ClientRef)
}

func TestGetMessageUnknownIsNil(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetMessage(context.Background(), "r1", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetRoomMessagesChronological(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m1 := addMsg(t, s, "r1", "alice", "one", base)
	m2 := addMsg(t, s, "r1", "bob", "two", base.Add(time.Second))
	m3 := addMsg(t, s, "r1", "alice", "three", base.Add(2*time.Second))

	msgs, err := s.GetRoomMessages(context.Background(), "r1", 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestGetRoomMessagesLimitKeepsNewest(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addMsg(t, s, "r1", "alice", "old", base)
	m2 := addMsg(t, s, "r1", "bob", "newer", base.Add(time.Second))
	m3 := addMsg(t, s, "r1", "alice", "newest", base.Add(2*time.Second))

	msgs, err := s.GetRoomMessages(context.Background(), "r1", 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m2.ID, msgs[0].ID)
	assert.Equal(t, m3.ID, msgs[1].ID)
}

func TestGetRoomMessagesBeforeIsExclusive(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m1 := addMsg(t, s, "r1", "alice", "one", base)
	m2 := addMsg(t, s, "r1", "bob", "two", base.Add(time.Second))
	addMsg(t, s, "r1", "alice", "three", base.Add(2*time.Second))

	msgs, err := s.GetRoomMessages(context.Background(), "r1", 50, base.Add(2*time.Second).UnixMilli())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, m2.ID, msgs[1].ID)
}

func TestGetRoomMessagesEmptyRoom(t *testing.T) {
	s, _ := newTestStore(t)
	msgs, err := s.GetRoomMessages(context.Background(), "empty", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSetReactionLastWriterWinsPerPair(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	msg := addMsg(t, s, "r1", "alice", "hi", time.Now().UTC())

	_, err := s.SetReaction(ctx, "r1", msg.ID, "thumbs", "bob")
	require.NoError(t, err)
	updated, err := s.SetReaction(ctx, "r1", msg.ID, "thumbs", "bob")
	require.NoError(t, err)

	// Re-reacting with the same pair replaces, never duplicates.
	require.NotNil(t, updated)
	assert.Len(t, updated.Reactions, 1)

	updated, err = s.SetReaction(ctx, "r1", msg.ID, "heart", "carol")
	require.NoError(t, err)
	assert.Len(t, updated.Reactions, 2)
}

func TestSetReactionUnknownMessage(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.SetReaction(context.Background(), "r1", "nope", "thumbs", "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnsetReaction(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	msg := addMsg(t, s, "r1", "alice", "hi", time.Now().UTC())

	_, err := s.SetReaction(ctx, "r1", msg.ID, "thumbs", "bob")
	require.NoError(t, err)
	_, err = s.SetReaction(ctx, "r1", msg.ID, "thumbs", "carol")
	require.NoError(t, err)

	updated, err := s.UnsetReaction(ctx, "r1", msg.ID, "thumbs", "bob")
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.Len(t, updated.Reactions, 1)
	assert.Equal(t, "carol", updated.Reactions[0].UserID)
}

func TestMarkReadAppendsAndAdvances(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m1 := addMsg(t, s, "r1", "alice", "one", time.Now().UTC())
	m2 := addMsg(t, s, "r1", "alice", "two", time.Now().UTC())

	updated, err := s.MarkRead(ctx, "r1", []string{m1.ID, m2.ID, "unknown"}, "bob")
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, []string{"bob"}, updated[0].ReadBy)
	assert.Equal(t, models.StatusRead, updated[0].Status)

	// Marking again changes nothing.
	updated, err = s.MarkRead(ctx, "r1", []string{m1.ID}, "bob")
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestTypingExpiresServerSide(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ind, err := s.UpsertTyping(ctx, "r1", "alice", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ind.IsTyping)
	assert.True(t, ind.ExpiresAt.After(time.Now()))

	require.True(t, mr.Exists("relay:room:r1:typing:alice"))

	mr.FastForward(11 * time.Second)
	assert.False(t, mr.Exists("relay:room:r1:typing:alice"))
}

func TestClearTyping(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertTyping(ctx, "r1", "alice", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.ClearTyping(ctx, "r1", "alice"))
	assert.False(t, mr.Exists("relay:room:r1:typing:alice"))
}

func TestPresenceRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.SetPresence(ctx, "r1", models.PresenceRecord{
		UserID: "alice", Status: models.PresenceOnline, LastSeen: now,
	}))
	require.NoError(t, s.SetPresence(ctx, "r1", models.PresenceRecord{
		UserID: "bob", Status: models.PresenceAway, LastSeen: now,
	}))

	records, err := s.GetPresence(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// Re-announcing upserts in place.
	require.NoError(t, s.SetPresence(ctx, "r1", models.PresenceRecord{
		UserID: "alice", Status: models.PresenceBusy, LastSeen: now,
	}))
	records, err = s.GetPresence(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, s.RemovePresence(ctx, "r1", "alice"))
	records, err = s.GetPresence(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].UserID)
}
