package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Sync holds the timing contract of the sync core. The defaults are chosen so
// the typing sweep always detects expiry within one interval of the TTL
// elapsing.
type Sync struct {
	TypingTTL      time.Duration // how long a typing upsert stays active
	TypingDebounce time.Duration // idle time before the local intent auto-clears
	SweepInterval  time.Duration // cadence of the typing expiry sweep

	MessageCacheTTL  time.Duration
	ProfileCacheTTL  time.Duration
	PresenceCacheTTL time.Duration

	HistoryLimit int // messages fetched on initial load
}

// Config holds all configuration for the relay and the sync core defaults.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	Sync Sync
}

// DefaultSync returns the standard sync tunables.
func DefaultSync() Sync {
	return Sync{
		TypingTTL:        10 * time.Second,
		TypingDebounce:   8 * time.Second,
		SweepInterval:    5 * time.Second,
		MessageCacheTTL:  30 * time.Second,
		ProfileCacheTTL:  5 * time.Minute,
		PresenceCacheTTL: 30 * time.Second,
		HistoryLimit:     50,
	}
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	sync := DefaultSync()
	sync.TypingTTL = getDuration("TYPING_TTL", sync.TypingTTL)
	sync.TypingDebounce = getDuration("TYPING_DEBOUNCE", sync.TypingDebounce)
	sync.SweepInterval = getDuration("TYPING_SWEEP_INTERVAL", sync.SweepInterval)
	sync.MessageCacheTTL = getDuration("MESSAGE_CACHE_TTL", sync.MessageCacheTTL)
	sync.ProfileCacheTTL = getDuration("PROFILE_CACHE_TTL", sync.ProfileCacheTTL)
	sync.PresenceCacheTTL = getDuration("PRESENCE_CACHE_TTL", sync.PresenceCacheTTL)

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		Sync:        sync,
	}

	// In production, require redis; profiles fall back to sqlite without a
	// database URL, message delivery does not.
	if cfg.Env == "production" && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
