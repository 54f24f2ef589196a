package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/skillmesh/chatsync/internal/metrics"
	"github.com/skillmesh/chatsync/internal/models"
)

const (
	// messageTTL bounds the relay's hot window; older history lives in the
	// platform's durable store, which is outside this service.
	messageTTL  = 24 * time.Hour
	presenceTTL = 24 * time.Hour
)

// RedisStore handles Redis operations for messages, typing indicators and
// presence.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client (tests, shared cache).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for sharing with the cache layer.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// roomMessagesKey returns the key for a room's message hash.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:messages", roomID)
}

// roomOrderKey returns the key for a room's message order index.
func roomOrderKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:order", roomID)
}

// typingKey returns the key for one user's typing indicator in a room.
func typingKey(roomID, userID string) string {
	return fmt.Sprintf("relay:room:%s:typing:%s", roomID, userID)
}

// presenceKey returns the key for a room's presence hash.
func presenceKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:presence", roomID)
}

// AddMessage stores a message, assigning its canonical ID and timestamps.
// Messages live in a hash keyed by ID with a sorted-set order index, so
// per-message sub-state (reactions, read receipts) can be updated in place.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Status == "" || msg.Status == models.StatusSending {
		msg.Status = models.StatusSent
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgKey := roomMessagesKey(msg.RoomID)
	ordKey := roomOrderKey(msg.RoomID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, msgKey, msg.ID, data)
	pipe.ZAdd(ctx, ordKey, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: msg.ID,
	})
	pipe.Expire(ctx, msgKey, messageTTL)
	pipe.Expire(ctx, ordKey, messageTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// SaveMessage writes an updated message record in place.
func (s *RedisStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, roomMessagesKey(msg.RoomID), msg.ID, data).Err()
}

// GetMessage retrieves a specific message by ID, or nil if unknown.
func (s *RedisStore) GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error) {
	data, err := s.client.HGet(ctx, roomMessagesKey(roomID), msgID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetRoomMessages retrieves up to limit messages in chronological order.
// A non-zero before (unix ms) bounds the page to strictly older messages.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	maxScore := "+inf"
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	}

	// Newest first from the order index, then flipped.
	ids, err := s.client.ZRevRangeByScore(ctx, roomOrderKey(roomID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	fields := make([]string, len(ids))
	copy(fields, ids)
	raw, err := s.client.HMGet(ctx, roomMessagesKey(roomID), fields...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		data, ok := raw[i].(string)
		if !ok {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// SetReaction records an (emoji, user) pair, last-writer-wins per pair, and
// returns the updated message.
func (s *RedisStore) SetReaction(ctx context.Context, roomID, msgID, emoji, userID string) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, roomID, msgID)
	if err != nil || msg == nil {
		return msg, err
	}

	kept := msg.Reactions[:0]
	for _, r := range msg.Reactions {
		if !(r.Emoji == emoji && r.UserID == userID) {
			kept = append(kept, r)
		}
	}
	msg.Reactions = append(kept, models.Reaction{
		Emoji:     emoji,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	})

	if err := s.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// UnsetReaction removes an (emoji, user) pair and returns the updated
// message.
func (s *RedisStore) UnsetReaction(ctx context.Context, roomID, msgID, emoji, userID string) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, roomID, msgID)
	if err != nil || msg == nil {
		return msg, err
	}

	kept := msg.Reactions[:0]
	for _, r := range msg.Reactions {
		if !(r.Emoji == emoji && r.UserID == userID) {
			kept = append(kept, r)
		}
	}
	msg.Reactions = kept

	if err := s.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead appends userID to the read set of each message and advances the
// status. Returns the messages that actually changed.
func (s *RedisStore) MarkRead(ctx context.Context, roomID string, msgIDs []string, userID string) ([]models.Message, error) {
	updated := make([]models.Message, 0, len(msgIDs))
	for _, id := range msgIDs {
		msg, err := s.GetMessage(ctx, roomID, id)
		if err != nil {
			return nil, err
		}
		if msg == nil || msg.ReadByUser(userID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, userID)
		if msg.Status.Advances(models.StatusRead) {
			msg.Status = models.StatusRead
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			return nil, err
		}
		updated = append(updated, *msg)
	}
	return updated, nil
}

// UpsertTyping stores a typing indicator with a Redis-enforced TTL and
// returns it. Even if the clear is never delivered, the key expires on its
// own.
func (s *RedisStore) UpsertTyping(ctx context.Context, roomID, userID string, ttl time.Duration) (*models.TypingIndicator, error) {
	now := time.Now().UTC()
	ind := &models.TypingIndicator{
		RoomID:    roomID,
		UserID:    userID,
		IsTyping:  true,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}

	data, err := json.Marshal(ind)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, typingKey(roomID, userID), data, ttl).Err(); err != nil {
		return nil, err
	}
	return ind, nil
}

// ClearTyping removes a typing indicator.
func (s *RedisStore) ClearTyping(ctx context.Context, roomID, userID string) error {
	return s.client.Del(ctx, typingKey(roomID, userID)).Err()
}

// SetPresence upserts a user's presence record in the room's presence hash.
func (s *RedisStore) SetPresence(ctx context.Context, roomID string, rec models.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := presenceKey(roomID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, rec.UserID, data)
	pipe.Expire(ctx, key, presenceTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RemovePresence deletes a user's record entirely.
func (s *RedisStore) RemovePresence(ctx context.Context, roomID, userID string) error {
	return s.client.HDel(ctx, presenceKey(roomID), userID).Err()
}

// GetPresence returns all presence records for a room.
func (s *RedisStore) GetPresence(ctx context.Context, roomID string) ([]models.PresenceRecord, error) {
	raw, err := s.client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.PresenceRecord, 0, len(raw))
	for _, data := range raw {
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
