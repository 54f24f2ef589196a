package models

import "encoding/json"

// Topic names the three independent event streams delivered per room.
// Ordering is guaranteed within one topic for one room, never across topics.
type Topic string

const (
	TopicMessages Topic = "messages"
	TopicTyping   Topic = "typing"
	TopicPresence Topic = "presence"
)

// Event types carried inside envelopes, per topic.
const (
	// messages
	EventInsert = "insert"
	EventUpdate = "update"

	// typing
	EventUpsert = "upsert"
	EventDelete = "delete"

	// presence
	EventSnapshot = "snapshot"
	EventJoin     = "join"
	EventLeave    = "leave"
)

// Envelope is the wire frame for every event a subscription delivers.
type Envelope struct {
	Topic   Topic           `json:"topic"`
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// MessageDelta is an insert or update of a full message record.
type MessageDelta struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// TypingDelta is an upsert or delete of a typing indicator.
type TypingDelta struct {
	Type      string          `json:"type"`
	Indicator TypingIndicator `json:"indicator"`
}

// PresenceDelta is a snapshot, join or leave event. Records is set for
// snapshots; Record for join; for leave only Record.UserID is meaningful.
type PresenceDelta struct {
	Type    string           `json:"type"`
	Record  PresenceRecord   `json:"record,omitempty"`
	Records []PresenceRecord `json:"records,omitempty"`
}

// NewEnvelope marshals a delta payload into an Envelope. Marshal errors are
// impossible for the delta types above, so they are swallowed.
func NewEnvelope(topic Topic, eventType, roomID string, payload any) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{Topic: topic, Type: eventType, RoomID: roomID, Payload: raw}
}
