package room

import (
	"sync"

	"github.com/skillmesh/chatsync/internal/models"
)

// PresenceTracker maintains the live user -> status map for one room from a
// snapshot plus incremental join/leave deltas. Last write by delivery order
// wins; the channel already guarantees per-user delivery order.
type PresenceTracker struct {
	mu      sync.RWMutex
	records map[string]models.PresenceRecord
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{records: make(map[string]models.PresenceRecord)}
}

// Apply folds a presence delta from the subscription.
func (p *PresenceTracker) Apply(d models.PresenceDelta) {
	switch d.Type {
	case models.EventSnapshot:
		p.ApplySnapshot(d.Records)
	case models.EventJoin:
		p.ApplyJoin(d.Record)
	case models.EventLeave:
		p.ApplyLeave(d.Record.UserID)
	}
}

// ApplySnapshot replaces the map wholesale; prior entries not in the
// snapshot are discarded.
func (p *PresenceTracker) ApplySnapshot(records []models.PresenceRecord) {
	next := make(map[string]models.PresenceRecord, len(records))
	for _, r := range records {
		next[r.UserID] = r
	}

	p.mu.Lock()
	p.records = next
	p.mu.Unlock()
}

// ApplyJoin upserts the record for a single user.
func (p *PresenceTracker) ApplyJoin(r models.PresenceRecord) {
	p.mu.Lock()
	p.records[r.UserID] = r
	p.mu.Unlock()
}

// ApplyLeave removes the user's record entirely, not just marks it offline.
func (p *PresenceTracker) ApplyLeave(userID string) {
	p.mu.Lock()
	delete(p.records, userID)
	p.mu.Unlock()
}

// Get returns the record for a user, if tracked.
func (p *PresenceTracker) Get(userID string) (models.PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[userID]
	return r, ok
}

// Snapshot returns a copy of the current map.
func (p *PresenceTracker) Snapshot() map[string]models.PresenceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]models.PresenceRecord, len(p.records))
	for k, v := range p.records {
		out[k] = v
	}
	return out
}

// Reset releases the map. Called on session teardown.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.records = make(map[string]models.PresenceRecord)
	p.mu.Unlock()
}
