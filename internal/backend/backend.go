// Package backend defines the write-path collaborator the sync core talks
// to. Calls are opaque async operations; retry and backoff policy belong to
// the implementation, not the core.
package backend

import (
	"context"
	"time"

	"github.com/skillmesh/chatsync/internal/models"
)

// SendParams are the inputs to a message send. ClientRef is the
// client-generated idempotency token the relay echoes back on the insert
// delta.
type SendParams struct {
	RoomID    string
	SenderID  string
	Content   string
	Kind      models.MessageKind
	ReplyToID string
	FileURL   string
	FileName  string
	ClientRef string
}

// Backend is the external durable store the core syncs against. Every call
// may fail; failures surface to the session for rollback handling.
type Backend interface {
	// SendMessage persists a message and returns the canonical record.
	SendMessage(ctx context.Context, p SendParams) (*models.Message, error)

	// FetchMessages returns up to limit messages for a room in chronological
	// order. A non-zero before bounds the page to older messages.
	FetchMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error)

	// SetReaction / UnsetReaction toggle an (emoji, user) pair on a message.
	SetReaction(ctx context.Context, roomID, messageID, emoji, userID string) error
	UnsetReaction(ctx context.Context, roomID, messageID, emoji, userID string) error

	// MarkRead appends userID to the read set of each message.
	MarkRead(ctx context.Context, roomID string, messageIDs []string, userID string) error

	// UpsertTyping announces a typing intent with the given TTL; ClearTyping
	// retracts it.
	UpsertTyping(ctx context.Context, roomID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, roomID, userID string) error

	// TrackPresence announces the user's availability in a room.
	TrackPresence(ctx context.Context, roomID, userID string, status models.PresenceStatus) error

	// FetchProfile returns a user's displayable profile, or nil if unknown.
	FetchProfile(ctx context.Context, userID string) (*models.Profile, error)
}
