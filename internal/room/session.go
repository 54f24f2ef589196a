package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/skillmesh/chatsync/internal/backend"
	"github.com/skillmesh/chatsync/internal/cache"
	"github.com/skillmesh/chatsync/internal/channel"
	"github.com/skillmesh/chatsync/internal/config"
	"github.com/skillmesh/chatsync/internal/metrics"
	"github.com/skillmesh/chatsync/internal/models"
)

// SendOptions carries the optional fields of a send.
type SendOptions struct {
	Kind      models.MessageKind
	ReplyToID string
	FileURL   string
	FileName  string
}

// Session owns everything one room subscription needs: the subscription
// itself, the message store, the typing coordinator with its timers, and the
// presence map. It is created on Open and torn down completely on Close;
// nothing per-room outlives it.
//
// All deltas for the room are applied by a single consume loop in arrival
// order per topic; reconciliation runs under the store lock, so state never
// needs coordination beyond this session.
type Session struct {
	roomID string
	userID string

	backend backend.Backend
	channel *channel.Channel
	cache   cache.Store
	cfg     config.Sync
	logger  zerolog.Logger

	store    *Store
	typing   *TypingCoordinator
	presence *PresenceTracker

	sub       *channel.Subscription
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSession creates a session for the given room and local user. Open must
// be called before use.
func NewSession(roomID, userID string, be backend.Backend, ch *channel.Channel, cs cache.Store, cfg config.Sync, logger zerolog.Logger) *Session {
	logger = logger.With().Str("room", roomID).Logger()
	return &Session{
		roomID:   roomID,
		userID:   userID,
		backend:  be,
		channel:  ch,
		cache:    cs,
		cfg:      cfg,
		logger:   logger,
		store:    NewStore(roomID),
		typing:   NewTypingCoordinator(roomID, userID, be, cfg.TypingTTL, cfg.TypingDebounce, cfg.SweepInterval, logger),
		presence: NewPresenceTracker(),
		done:     make(chan struct{}),
	}
}

// Open subscribes to the room's event streams, announces the local user's
// presence, performs the cached initial load and starts the consume loop.
func (s *Session) Open(ctx context.Context) error {
	sub, err := s.channel.Subscribe(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("room: subscribe %s: %w", s.roomID, err)
	}
	s.sub = sub

	// Announcing "online" is a side effect of subscribing, not a separate
	// operation the caller performs.
	if err := s.backend.TrackPresence(ctx, s.roomID, s.userID, models.PresenceOnline); err != nil {
		s.logger.Warn().Err(err).Msg("presence announce failed")
	}

	if err := s.loadInitial(ctx); err != nil {
		// Degraded start: the stream still delivers new messages.
		s.logger.Warn().Err(err).Msg("initial message load failed")
	}

	s.typing.Start()

	s.wg.Add(1)
	go s.loop()
	return nil
}

// loadInitial fills the store through the read-through cache.
func (s *Session) loadInitial(ctx context.Context) error {
	key := cache.RoomMessagesKey(s.roomID)
	msgs, err := cache.GetJSONWithFallback(ctx, s.cache, key, func(ctx context.Context) ([]models.Message, error) {
		return s.backend.FetchMessages(ctx, s.roomID, s.cfg.HistoryLimit, time.Time{})
	}, s.cfg.MessageCacheTTL)
	if err != nil {
		return err
	}
	s.store.Reset(msgs)
	return nil
}

// loop is the single consumer for all three topic streams. Per-topic order
// is preserved; no ordering is assumed across topics.
func (s *Session) loop() {
	defer s.wg.Done()

	msgs := s.sub.Messages()
	typing := s.sub.Typing()
	presence := s.sub.Presence()

	for msgs != nil || typing != nil || presence != nil {
		select {
		case <-s.done:
			return

		case d, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.applyMessageDelta(d)

		case d, ok := <-typing:
			if !ok {
				typing = nil
				continue
			}
			s.typing.Apply(d)

		case d, ok := <-presence:
			if !ok {
				presence = nil
				continue
			}
			s.presence.Apply(d)
		}
	}
}

func (s *Session) applyMessageDelta(d models.MessageDelta) {
	switch d.Type {
	case models.EventInsert:
		s.store.Reconcile(d.Message)
	case models.EventUpdate:
		s.store.ApplyUpdate(d.Message)
	default:
		s.logger.Debug().Str("type", d.Type).Msg("unknown message delta")
	}
}

// SendMessage appends an optimistic entry, issues the authoritative write and
// reconciles the returned record. If the relay rejects the write the
// optimistic entry is removed and the error returned; no permanently
// "sending" ghost remains.
func (s *Session) SendMessage(ctx context.Context, content string, opts SendOptions) (models.Message, error) {
	if opts.Kind == "" {
		opts.Kind = models.KindText
	}
	ref := ulid.Make().String()
	now := time.Now().UTC()

	local := &models.Message{
		ID:        models.LocalIDPrefix + ref,
		RoomID:    s.roomID,
		SenderID:  s.userID,
		Content:   content,
		Kind:      opts.Kind,
		Status:    models.StatusSending,
		ReplyToID: opts.ReplyToID,
		FileURL:   opts.FileURL,
		FileName:  opts.FileName,
		ClientRef: ref,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.store.Append(local)

	canonical, err := s.backend.SendMessage(ctx, backend.SendParams{
		RoomID:    s.roomID,
		SenderID:  s.userID,
		Content:   content,
		Kind:      opts.Kind,
		ReplyToID: opts.ReplyToID,
		FileURL:   opts.FileURL,
		FileName:  opts.FileName,
		ClientRef: ref,
	})
	if err != nil {
		s.store.RemoveLocal(local.ID)
		metrics.SendFailures.Inc()
		return models.Message{}, fmt.Errorf("room: send rejected: %w", err)
	}

	s.store.Reconcile(*canonical)
	metrics.MessagesSent.Inc()

	// Invalidate the room's message-list entry so the next cold load is
	// fresh.
	if err := s.cache.Delete(ctx, cache.RoomMessagesKey(s.roomID)); err != nil {
		s.logger.Warn().Err(err).Msg("cache invalidation failed")
	}

	return *canonical, nil
}

// AddReaction applies the pair optimistically, then writes it through. A
// rejected write rolls back by re-fetching the authoritative state; partial
// undo of a set mutation risks drift.
func (s *Session) AddReaction(ctx context.Context, messageID, emoji string) error {
	s.store.ApplyReaction(messageID, emoji, s.userID)
	if err := s.backend.SetReaction(ctx, s.roomID, messageID, emoji, s.userID); err != nil {
		s.refresh(ctx)
		return fmt.Errorf("room: set reaction: %w", err)
	}
	return nil
}

// RemoveReaction is the inverse of AddReaction with the same rollback.
func (s *Session) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	s.store.RemoveReaction(messageID, emoji, s.userID)
	if err := s.backend.UnsetReaction(ctx, s.roomID, messageID, emoji, s.userID); err != nil {
		s.refresh(ctx)
		return fmt.Errorf("room: unset reaction: %w", err)
	}
	return nil
}

// MarkRead records the local user in the read set of the given messages and
// writes the receipts through.
func (s *Session) MarkRead(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	for _, id := range messageIDs {
		s.store.ApplyReadReceipt(id, s.userID)
	}
	if err := s.backend.MarkRead(ctx, s.roomID, messageIDs, s.userID); err != nil {
		s.refresh(ctx)
		return fmt.Errorf("room: mark read: %w", err)
	}
	return nil
}

// refresh re-fetches authoritative state, bypassing the cache, after a
// rejected mutation.
func (s *Session) refresh(ctx context.Context) {
	msgs, err := s.backend.FetchMessages(ctx, s.roomID, s.cfg.HistoryLimit, time.Time{})
	if err != nil {
		s.logger.Warn().Err(err).Msg("refresh after rejected write failed")
		return
	}
	s.store.Reset(msgs)
	if err := s.cache.Delete(ctx, cache.RoomMessagesKey(s.roomID)); err != nil {
		s.logger.Warn().Err(err).Msg("cache invalidation failed")
	}
}

// SetTyping announces the local user's typing intent; StopTyping retracts it.
func (s *Session) SetTyping(ctx context.Context) error  { return s.typing.SetTyping(ctx) }
func (s *Session) StopTyping(ctx context.Context) error { return s.typing.StopTyping(ctx) }

// Messages returns the current ordered message snapshot.
func (s *Session) Messages() []models.Message { return s.store.Snapshot() }

// TypingUsers returns the active remote typing indicators.
func (s *Session) TypingUsers() []models.TypingIndicator { return s.typing.Typing() }

// Presence returns the current presence map.
func (s *Session) Presence() map[string]models.PresenceRecord { return s.presence.Snapshot() }

// States exposes the subscription's connection state stream. Connection loss
// surfaces here as Disconnected; resubscribing is the caller's decision.
// Before a successful Open there is no subscription, so a closed stream is
// returned and consumers observe an immediate end.
func (s *Session) States() <-chan channel.ConnState {
	if s.sub == nil {
		closed := make(chan channel.ConnState)
		close(closed)
		return closed
	}
	return s.sub.States()
}

// Profile fetches a user's profile through the read-through cache.
func (s *Session) Profile(ctx context.Context, userID string) (models.Profile, error) {
	return cache.GetJSONWithFallback(ctx, s.cache, cache.ProfileKey(userID), func(ctx context.Context) (models.Profile, error) {
		p, err := s.backend.FetchProfile(ctx, userID)
		if err != nil {
			return models.Profile{}, err
		}
		if p == nil {
			return models.Profile{UserID: userID}, nil
		}
		return *p, nil
	}, s.cfg.ProfileCacheTTL)
}

// Close tears the session down completely: the subscription is closed, the
// typing sweep and debounce timers are cancelled, and the presence map is
// released. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			s.sub.Close()
		}
		close(s.done)
		s.typing.Close()
		s.wg.Wait()
		s.presence.Reset()
	})
}
