package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillmesh/chatsync/internal/metrics"
	"github.com/skillmesh/chatsync/internal/models"
)

// TypingWriter is the slice of the relay write path the coordinator needs.
type TypingWriter interface {
	UpsertTyping(ctx context.Context, roomID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, roomID, userID string) error
}

// TypingCoordinator tracks remote typing indicators with expiry and manages
// the local user's own typing intent on a debounce schedule. Remote
// indicators are evicted by a periodic sweep even when the delete event was
// lost, so an indicator never outlives its TTL by more than one sweep
// interval.
type TypingCoordinator struct {
	roomID string
	selfID string
	writer TypingWriter
	logger zerolog.Logger

	ttl        time.Duration
	debounce   time.Duration
	sweepEvery time.Duration

	mu       sync.Mutex
	remote   map[string]models.TypingIndicator
	debTimer *time.Timer
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// NewTypingCoordinator creates a coordinator for the given room and local
// user. Call Start to arm the sweep and Close to tear everything down.
func NewTypingCoordinator(roomID, selfID string, writer TypingWriter, ttl, debounce, sweepEvery time.Duration, logger zerolog.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		roomID:     roomID,
		selfID:     selfID,
		writer:     writer,
		logger:     logger,
		ttl:        ttl,
		debounce:   debounce,
		sweepEvery: sweepEvery,
		remote:     make(map[string]models.TypingIndicator),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the periodic expiry sweep.
func (t *TypingCoordinator) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.done:
				return
			}
		}
	}()
}

// Apply folds a typing delta from the subscription. The local user's own
// indicator is never tracked.
func (t *TypingCoordinator) Apply(d models.TypingDelta) {
	ind := d.Indicator
	if ind.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch d.Type {
	case models.EventUpsert:
		if ind.Active(t.now()) {
			t.remote[ind.UserID] = ind
		} else {
			delete(t.remote, ind.UserID)
		}
	case models.EventDelete:
		delete(t.remote, ind.UserID)
	}
}

// Typing returns the currently active remote indicators, sorted by user ID.
// Expired entries are filtered even if the sweep has not run yet.
func (t *TypingCoordinator) Typing() []models.TypingIndicator {
	now := t.now()

	t.mu.Lock()
	out := make([]models.TypingIndicator, 0, len(t.remote))
	for _, ind := range t.remote {
		if ind.Active(now) {
			out = append(out, ind)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SetTyping announces the local user's typing intent with the configured TTL
// and (re-)arms the debounce timer. Each call while already typing cancels
// and reschedules the pending auto-clear rather than stacking a second timer.
func (t *TypingCoordinator) SetTyping(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.debTimer != nil {
		t.debTimer.Stop()
	}
	t.debTimer = time.AfterFunc(t.debounce, t.autoClear)
	t.mu.Unlock()

	return t.writer.UpsertTyping(ctx, t.roomID, t.selfID, t.ttl)
}

// StopTyping clears the local user's typing intent and cancels the pending
// auto-clear.
func (t *TypingCoordinator) StopTyping(ctx context.Context) error {
	t.mu.Lock()
	if t.debTimer != nil {
		t.debTimer.Stop()
		t.debTimer = nil
	}
	t.mu.Unlock()

	return t.writer.ClearTyping(ctx, t.roomID, t.selfID)
}

// autoClear fires when the debounce elapses with no further activity and
// issues an explicit stopped-typing signal.
func (t *TypingCoordinator) autoClear() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.debTimer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.writer.ClearTyping(ctx, t.roomID, t.selfID); err != nil {
		t.logger.Warn().Err(err).Str("room", t.roomID).Msg("typing auto-clear failed")
	}
}

// sweep evicts expired remote indicators regardless of whether a delete
// event was ever delivered.
func (t *TypingCoordinator) sweep() {
	now := t.now()

	t.mu.Lock()
	var swept int
	for userID, ind := range t.remote {
		if !ind.Active(now) {
			delete(t.remote, userID)
			swept++
		}
	}
	t.mu.Unlock()

	if swept > 0 {
		metrics.TypingSwept.Add(float64(swept))
	}
}

// Close stops the sweep and the debounce timer. It does not emit a final
// clear; Session does that as part of teardown.
func (t *TypingCoordinator) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.debTimer != nil {
		t.debTimer.Stop()
		t.debTimer = nil
	}
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
}
