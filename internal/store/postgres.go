package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillmesh/chatsync/internal/models"
)

// PostgresStore handles PostgreSQL profile storage.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates the profiles table if it does not exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertProfile creates or updates a profile record.
func (s *PostgresStore) UpsertProfile(ctx context.Context, id uuid.UUID, fullName, avatarURL string) (*models.Profile, error) {
	p := &models.Profile{}
	var uid uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, full_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    avatar_url = EXCLUDED.avatar_url,
		    updated_at = now()
		RETURNING id, full_name, avatar_url, created_at
	`, id, fullName, avatarURL).Scan(&uid, &p.FullName, &p.AvatarURL, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	p.UserID = uid.String()
	return p, nil
}

// GetProfileByID retrieves a profile by ID, or nil if unknown.
func (s *PostgresStore) GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p := &models.Profile{}
	var uid uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, full_name, avatar_url, created_at
		FROM profiles WHERE id = $1
	`, id).Scan(&uid, &p.FullName, &p.AvatarURL, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.UserID = uid.String()
	return p, nil
}

// CountProfiles returns the total number of profiles.
func (s *PostgresStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}
