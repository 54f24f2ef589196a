package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skillmesh/chatsync/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxContentBytes     = 4096
)

// PostMessageRequest is the message send request.
type PostMessageRequest struct {
	SenderID  string             `json:"sender_id"`
	Content   string             `json:"content"`
	Kind      models.MessageKind `json:"kind"`
	ReplyToID string             `json:"reply_to_id,omitempty"`
	FileURL   string             `json:"file_url,omitempty"`
	FileName  string             `json:"file_name,omitempty"`
	ClientRef string             `json:"client_ref,omitempty"`
}

// PostMessage persists a message, assigns its canonical ID and broadcasts
// the insert delta. The client_ref is echoed back untouched so the sender's
// sync core can bind the echo to its optimistic entry.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.SenderID = strings.TrimSpace(req.SenderID)
	if req.SenderID == "" {
		h.Error(w, http.StatusBadRequest, "sender_id is required")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && req.FileURL == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxContentBytes {
		h.Error(w, http.StatusBadRequest, "content too long")
		return
	}
	switch req.Kind {
	case "":
		req.Kind = models.KindText
	case models.KindText, models.KindImage, models.KindFile:
	default:
		h.Error(w, http.StatusBadRequest, "unknown message kind")
		return
	}

	msg := &models.Message{
		RoomID:    roomID,
		SenderID:  req.SenderID,
		Content:   req.Content,
		Kind:      req.Kind,
		ReplyToID: req.ReplyToID,
		FileURL:   req.FileURL,
		FileName:  req.FileName,
		ClientRef: req.ClientRef,
	}
	if err := h.redis.AddMessage(r.Context(), msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicMessages, models.EventInsert, roomID, msg))

	h.JSON(w, http.StatusCreated, msg)
}

// RoomMessagesResponse is the history page response.
type RoomMessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// GetRoomMessages returns a room's recent messages in chronological order,
// with limit/before pagination.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		before = n
	}

	// Fetch one extra to compute has_more.
	msgs, err := h.redis.GetRoomMessages(r.Context(), roomID, limit+1, before)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	hasMore := false
	if len(msgs) > limit {
		hasMore = true
		msgs = msgs[len(msgs)-limit:]
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{Messages: msgs, HasMore: hasMore})
}

// ReactionRequest is the reaction write request.
type ReactionRequest struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

func (h *Handler) decodeReaction(w http.ResponseWriter, r *http.Request) (ReactionRequest, bool) {
	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.Emoji == "" || req.UserID == "" {
		h.Error(w, http.StatusBadRequest, "emoji and user_id are required")
		return req, false
	}
	return req, true
}

// SetReaction records an (emoji, user) pair and broadcasts the update delta.
func (h *Handler) SetReaction(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msgID")

	req, ok := h.decodeReaction(w, r)
	if !ok {
		return
	}

	msg, err := h.redis.SetReaction(r.Context(), roomID, msgID, req.Emoji, req.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store reaction")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicMessages, models.EventUpdate, roomID, msg))
	h.JSON(w, http.StatusOK, msg)
}

// UnsetReaction removes an (emoji, user) pair and broadcasts the update
// delta.
func (h *Handler) UnsetReaction(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msgID")

	req, ok := h.decodeReaction(w, r)
	if !ok {
		return
	}

	msg, err := h.redis.UnsetReaction(r.Context(), roomID, msgID, req.Emoji, req.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to remove reaction")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicMessages, models.EventUpdate, roomID, msg))
	h.JSON(w, http.StatusOK, msg)
}

// MarkReadRequest is the read receipt request.
type MarkReadRequest struct {
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

// MarkRead appends the user to each message's read set and broadcasts an
// update delta per changed message.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || len(req.MessageIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "user_id and message_ids are required")
		return
	}

	updated, err := h.redis.MarkRead(r.Context(), roomID, req.MessageIDs, req.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	for i := range updated {
		h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicMessages, models.EventUpdate, roomID, &updated[i]))
	}

	h.JSON(w, http.StatusOK, map[string]int{"updated": len(updated)})
}
