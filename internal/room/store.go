// Package room implements the per-room synchronization core: the message
// store with echo reconciliation, the typing coordinator, the presence
// tracker, and the session that owns their shared lifecycle.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/skillmesh/chatsync/internal/metrics"
	"github.com/skillmesh/chatsync/internal/models"
)

// Store is the authoritative client-side view of one room's ordered message
// list. It folds optimistic local appends and relay deltas into a single
// consistent sequence. All reconciliation runs under the store lock so two
// concurrently delivered echoes can never match the same local message twice.
type Store struct {
	mu     sync.RWMutex
	roomID string

	// entries holds the render order. Canonical messages sort by
	// (created_at, id); local-only messages keep their insertion order so
	// clock skew never makes an unsent bubble jump.
	entries []*models.Message
	byID    map[string]*models.Message
	byRef   map[string]string // client_ref -> current message ID

	now func() time.Time
}

// NewStore creates an empty store for the given room.
func NewStore(roomID string) *Store {
	return &Store{
		roomID: roomID,
		byID:   make(map[string]*models.Message),
		byRef:  make(map[string]string),
		now:    time.Now,
	}
}

// Append inserts an optimistic message at the tail in sending status. The
// message must carry a local ID.
func (s *Store) Append(m *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := m.Clone()
	c.Status = models.StatusSending
	s.entries = append(s.entries, c)
	s.byID[c.ID] = c
	if c.ClientRef != "" {
		s.byRef[c.ClientRef] = c.ID
	}
}

// Reconcile folds an authoritative insert into the store. If a local-only
// counterpart exists, the canonical record replaces it in place; otherwise
// the record is inserted respecting ordering. Applying the same echo twice is
// a no-op merge.
func (s *Store) Reconcile(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A canonical ID we already hold means this echo was reconciled before
	// (or arrived on both the write response and the delta stream). Merge
	// instead of re-binding so ordering is never corrupted.
	if existing, ok := s.byID[m.ID]; ok {
		s.merge(existing, &m)
		metrics.Reconciliations.WithLabelValues("duplicate").Inc()
		return
	}

	if local := s.findLocalMatch(&m); local != nil {
		s.replaceLocal(local, &m)
		metrics.Reconciliations.WithLabelValues("matched").Inc()
		return
	}

	// Echo raced ahead of the optimistic append, or the message originated
	// from another client.
	s.insertOrdered(m.Clone())
	metrics.Reconciliations.WithLabelValues("inserted").Inc()
}

// findLocalMatch locates the local-only message an echo belongs to. The
// client_ref token is preferred; content matching is the fallback for relays
// that drop the token. Content matching can bind the wrong message when a
// user sends identical content twice in quick succession, which is why the
// token exists.
func (s *Store) findLocalMatch(m *models.Message) *models.Message {
	if m.ClientRef != "" {
		if id, ok := s.byRef[m.ClientRef]; ok {
			if e, ok := s.byID[id]; ok && e.IsLocal() {
				return e
			}
		}
		// A ref was provided but nothing local carries it: the echo is not
		// ours, do not fall back to content matching.
		return nil
	}

	for _, e := range s.entries {
		if e.IsLocal() && e.Status == models.StatusSending &&
			e.SenderID == m.SenderID && e.Content == m.Content {
			return e
		}
	}
	return nil
}

// replaceLocal swaps the canonical record into the local message's slice
// position, preserving the screen position the user already saw.
func (s *Store) replaceLocal(local *models.Message, m *models.Message) {
	c := m.Clone()
	if c.Status == models.StatusSending {
		c.Status = models.StatusSent
	}
	for i, e := range s.entries {
		if e.ID == local.ID {
			s.entries[i] = c
			break
		}
	}
	delete(s.byID, local.ID)
	s.byID[c.ID] = c
	// The ref binding is consumed here; duplicate echoes are caught by the
	// canonical ID lookup, so keeping it would only grow the map per send.
	if local.ClientRef != "" {
		delete(s.byRef, local.ClientRef)
	}
}

// ApplyUpdate merges an authoritative update event. Unknown IDs are inserted
// defensively (an update can race ahead of the initial load).
func (s *Store) ApplyUpdate(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[m.ID]; ok {
		s.merge(existing, &m)
		return
	}
	s.insertOrdered(m.Clone())
}

// merge applies authoritative fields onto an existing entry. Status only
// advances, read_by only grows; reactions are replaced wholesale because the
// relay is last-writer-wins per (emoji, user) pair.
func (s *Store) merge(dst *models.Message, src *models.Message) {
	dst.Content = src.Content
	dst.Kind = src.Kind
	dst.ReplyToID = src.ReplyToID
	dst.FileURL = src.FileURL
	dst.FileName = src.FileName
	dst.UpdatedAt = src.UpdatedAt

	if dst.Status.Advances(src.Status) {
		dst.Status = src.Status
	}

	dst.Reactions = make([]models.Reaction, len(src.Reactions))
	copy(dst.Reactions, src.Reactions)

	for _, id := range src.ReadBy {
		if !dst.ReadByUser(id) {
			dst.ReadBy = append(dst.ReadBy, id)
		}
	}
}

// ApplyReaction records an optimistic (emoji, user) pair. Adding an existing
// pair is a no-op.
func (s *Store) ApplyReaction(messageID, emoji, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok || m.HasReaction(emoji, userID) {
		return ok
	}
	m.Reactions = append(m.Reactions, models.Reaction{
		Emoji:     emoji,
		UserID:    userID,
		CreatedAt: s.now(),
	})
	return true
}

// RemoveReaction drops an optimistic (emoji, user) pair.
func (s *Store) RemoveReaction(messageID, emoji, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return false
	}
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if !(r.Emoji == emoji && r.UserID == userID) {
			kept = append(kept, r)
		}
	}
	m.Reactions = kept
	return true
}

// ApplyReadReceipt appends userID to a message's read set. The set never
// shrinks.
func (s *Store) ApplyReadReceipt(messageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return false
	}
	if !m.ReadByUser(userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
	return true
}

// RemoveLocal rolls back an optimistic append after the relay rejected the
// write. It reports whether the entry was present.
func (s *Store) RemoveLocal(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[localID]
	if !ok {
		return false
	}
	for i, e := range s.entries {
		if e.ID == localID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	delete(s.byID, localID)
	if m.ClientRef != "" {
		delete(s.byRef, m.ClientRef)
	}
	return true
}

// Reset replaces the store's canonical contents with an authoritative list,
// keeping any local-only messages still awaiting their echo at the tail.
// Used for the initial load and for full re-fetch after a rejected mutation.
func (s *Store) Reset(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locals []*models.Message
	for _, e := range s.entries {
		if e.IsLocal() {
			locals = append(locals, e)
		}
	}

	s.entries = s.entries[:0]
	s.byID = make(map[string]*models.Message)
	// Only surviving locals can still be matched by ref; everything else in
	// the binding map is stale.
	s.byRef = make(map[string]string)

	sorted := make([]*models.Message, 0, len(msgs))
	for i := range msgs {
		sorted = append(sorted, msgs[i].Clone())
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for _, m := range sorted {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.entries = append(s.entries, m)
		s.byID[m.ID] = m
	}
	for _, l := range locals {
		s.entries = append(s.entries, l)
		s.byID[l.ID] = l
		if l.ClientRef != "" {
			s.byRef[l.ClientRef] = l.ID
		}
	}
}

// Snapshot returns the ordered message list as a defensive copy. Mutating the
// result cannot corrupt store state.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e.Clone())
	}
	return out
}

// Get returns a copy of a single message by ID.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *m.Clone(), true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// insertOrdered places a canonical message by (created_at, id), scanning from
// the tail. Local-only entries compare by their optimistic created_at, so the
// relative order of unsent messages is untouched.
func (s *Store) insertOrdered(m *models.Message) {
	idx := len(s.entries)
	for idx > 0 && m.Before(s.entries[idx-1]) {
		idx--
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = m
	s.byID[m.ID] = m
}
