package models

import "time"

// TypingIndicator represents a user's typing intent in a room. An indicator
// is active only while now < ExpiresAt; expiry is enforced locally even if
// the delete event never arrives.
type TypingIndicator struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Active reports whether the indicator has not yet expired at the given time.
func (t *TypingIndicator) Active(now time.Time) bool {
	return t.IsTyping && now.Before(t.ExpiresAt)
}
