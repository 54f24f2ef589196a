package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skillmesh/chatsync/internal/models"
)

// PresenceRequest is the presence announcement request.
type PresenceRequest struct {
	UserID string                `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
}

// TrackPresence upserts a user's availability in the room and broadcasts a
// join delta. Going offline does not remove the record; only dropping the
// subscription does.
func (h *Handler) TrackPresence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req PresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		h.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	switch req.Status {
	case models.PresenceOnline, models.PresenceAway, models.PresenceBusy, models.PresenceOffline:
	default:
		h.Error(w, http.StatusBadRequest, "unknown presence status")
		return
	}

	rec := models.PresenceRecord{
		UserID:   req.UserID,
		Status:   req.Status,
		LastSeen: time.Now().UTC(),
	}
	if err := h.redis.SetPresence(r.Context(), roomID, rec); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store presence")
		return
	}

	h.hub.Broadcast(roomID, models.NewEnvelope(models.TopicPresence, models.EventJoin, roomID, rec))
	h.JSON(w, http.StatusOK, rec)
}
