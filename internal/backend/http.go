package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/skillmesh/chatsync/internal/models"
)

// ErrNotFound marks a 404 from the relay.
var ErrNotFound = errors.New("relay: not found")

// HTTPBackend talks to the relay's write API.
type HTTPBackend struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPBackend creates a client for the relay at baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Backend = (*HTTPBackend)(nil)

// doRequest performs an HTTP request and decodes error responses.
func (b *HTTPBackend) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
		}
		return nil, fmt.Errorf("relay error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// SendMessageRequest is the request body for a message send.
type SendMessageRequest struct {
	SenderID  string             `json:"sender_id"`
	Content   string             `json:"content"`
	Kind      models.MessageKind `json:"kind"`
	ReplyToID string             `json:"reply_to_id,omitempty"`
	FileURL   string             `json:"file_url,omitempty"`
	FileName  string             `json:"file_name,omitempty"`
	ClientRef string             `json:"client_ref,omitempty"`
}

// SendMessage persists a message via the relay.
func (b *HTTPBackend) SendMessage(ctx context.Context, p SendParams) (*models.Message, error) {
	req := SendMessageRequest{
		SenderID:  p.SenderID,
		Content:   p.Content,
		Kind:      p.Kind,
		ReplyToID: p.ReplyToID,
		FileURL:   p.FileURL,
		FileName:  p.FileName,
		ClientRef: p.ClientRef,
	}
	respBody, err := b.doRequest(ctx, http.MethodPost, "/rooms/"+url.PathEscape(p.RoomID)+"/messages", req)
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessagesResponse is the history page response.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// FetchMessages returns a room's recent messages in chronological order.
func (b *HTTPBackend) FetchMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	respBody, err := b.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ReactionRequest is the request body for reaction writes.
type ReactionRequest struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// SetReaction adds an (emoji, user) pair to a message.
func (b *HTTPBackend) SetReaction(ctx context.Context, roomID, messageID, emoji, userID string) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	_, err := b.doRequest(ctx, http.MethodPost, path, ReactionRequest{Emoji: emoji, UserID: userID})
	return err
}

// UnsetReaction removes an (emoji, user) pair from a message.
func (b *HTTPBackend) UnsetReaction(ctx context.Context, roomID, messageID, emoji, userID string) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID) + "/reactions/delete"
	_, err := b.doRequest(ctx, http.MethodPost, path, ReactionRequest{Emoji: emoji, UserID: userID})
	return err
}

// MarkReadRequest is the request body for read receipts.
type MarkReadRequest struct {
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

// MarkRead appends userID to the read set of each message.
func (b *HTTPBackend) MarkRead(ctx context.Context, roomID string, messageIDs []string, userID string) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/read"
	_, err := b.doRequest(ctx, http.MethodPost, path, MarkReadRequest{UserID: userID, MessageIDs: messageIDs})
	return err
}

// TypingRequest is the request body for typing upserts.
type TypingRequest struct {
	TTLMillis int64 `json:"ttl_ms"`
}

// UpsertTyping announces a typing intent.
func (b *HTTPBackend) UpsertTyping(ctx context.Context, roomID, userID string, ttl time.Duration) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/typing/" + url.PathEscape(userID)
	_, err := b.doRequest(ctx, http.MethodPut, path, TypingRequest{TTLMillis: ttl.Milliseconds()})
	return err
}

// ClearTyping retracts a typing intent.
func (b *HTTPBackend) ClearTyping(ctx context.Context, roomID, userID string) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/typing/" + url.PathEscape(userID)
	_, err := b.doRequest(ctx, http.MethodDelete, path, nil)
	return err
}

// PresenceRequest is the request body for presence announcements.
type PresenceRequest struct {
	UserID string                `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
}

// TrackPresence announces the user's availability in a room.
func (b *HTTPBackend) TrackPresence(ctx context.Context, roomID, userID string, status models.PresenceStatus) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/presence"
	_, err := b.doRequest(ctx, http.MethodPost, path, PresenceRequest{UserID: userID, Status: status})
	return err
}

// FetchProfile returns a user's profile, or nil if the relay does not know
// the user.
func (b *HTTPBackend) FetchProfile(ctx context.Context, userID string) (*models.Profile, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/profiles/"+url.PathEscape(userID), nil)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p models.Profile
	if err := json.Unmarshal(respBody, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
