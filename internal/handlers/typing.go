package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skillmesh/chatsync/internal/models"
)

// typing TTL bounds; an unreasonable TTL from a misbehaving client is
// clamped, not rejected.
const (
	minTypingTTL = time.Second
	maxTypingTTL = 30 * time.Second
)

// TypingRequest is the typing upsert request.
type TypingRequest struct {
	TTLMillis int64 `json:"ttl_ms"`
}

// UpsertTyping stores a typing indicator with a server-enforced TTL and
// broadcasts the upsert delta.
func (h *Handler) UpsertTyping(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")

	var req TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ttl := time.Duration(req.TTLMillis) * time.Millisecond
	if ttl < minTypingTTL {
		ttl = minTypingTTL
	}
	if ttl > maxTypingTTL {
		ttl = maxTypingTTL
	}

	ind, err := h.redis.UpsertTyping(r.Context(), roomID, userID, ttl)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store typing indicator")
		return
	}

	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicTyping, models.EventUpsert, roomID, ind))
	h.JSON(w, http.StatusOK, ind)
}

// ClearTyping removes a typing indicator and broadcasts the delete delta.
func (h *Handler) ClearTyping(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")

	if err := h.redis.ClearTyping(r.Context(), roomID, userID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to clear typing indicator")
		return
	}

	ind := models.TypingIndicator{RoomID: roomID, UserID: userID, IsTyping: false}
	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicTyping, models.EventDelete, roomID, ind))
	h.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
