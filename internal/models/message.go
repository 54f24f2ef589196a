package models

import (
	"strings"
	"time"
)

// LocalIDPrefix marks client-generated message IDs that have not yet been
// replaced by a canonical ID from the relay.
const LocalIDPrefix = "local-"

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// MessageStatus is the delivery state of a message from the sender's
// perspective. It only ever advances: sending -> sent -> delivered -> read.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// statusRank orders statuses for monotonic advancement.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Advances reports whether moving from the current status to next goes
// forward. Unknown statuses never advance.
func (s MessageStatus) Advances(next MessageStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Reaction is a single (emoji, user) pair on a message.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message represents a chat message. IDs are ULIDs once canonical; before the
// relay echo arrives they carry the LocalIDPrefix.
type Message struct {
	ID        string        `json:"id"`
	RoomID    string        `json:"room_id"`
	SenderID  string        `json:"sender_id"`
	Content   string        `json:"content"`
	Kind      MessageKind   `json:"kind"`
	Status    MessageStatus `json:"status"`
	Reactions []Reaction    `json:"reactions,omitempty"`
	ReadBy    []string      `json:"read_by,omitempty"`
	ReplyToID string        `json:"reply_to_id,omitempty"`
	FileURL   string        `json:"file_url,omitempty"`
	FileName  string        `json:"file_name,omitempty"`

	// ClientRef is a client-generated idempotency token echoed back by the
	// relay so an echo can be matched to its optimistic local entry without
	// relying on content matching.
	ClientRef string `json:"client_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLocal reports whether the message still carries a client-generated ID.
func (m *Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}

// Before reports whether m sorts before other. The ordering key is created_at
// with the ID as tie-break.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// HasReaction reports whether the (emoji, user) pair is already present.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}
	return false
}

// ReadByUser reports whether userID is in the read set.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand out snapshots without
// aliasing the store's internal state.
func (m *Message) Clone() *Message {
	c := *m
	if m.Reactions != nil {
		c.Reactions = make([]Reaction, len(m.Reactions))
		copy(c.Reactions, m.Reactions)
	}
	if m.ReadBy != nil {
		c.ReadBy = make([]string, len(m.ReadBy))
		copy(c.ReadBy, m.ReadBy)
	}
	return &c
}
