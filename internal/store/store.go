package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/skillmesh/chatsync/internal/models"
)

// ProfileStore defines the interface for durable profile storage.
// Both PostgresStore and SQLiteStore implement this interface.
type ProfileStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Profile operations
	UpsertProfile(ctx context.Context, id uuid.UUID, fullName, avatarURL string) (*models.Profile, error)
	GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	CountProfiles(ctx context.Context) (int64, error)
}
