package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/skillmesh/chatsync/internal/hub"
	"github.com/skillmesh/chatsync/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	redis    *store.RedisStore
	profiles store.ProfileStore
	hub      *hub.Hub
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given stores and hub.
func NewHandler(redis *store.RedisStore, profiles store.ProfileStore, h *hub.Hub, logger zerolog.Logger) *Handler {
	return &Handler{redis: redis, profiles: profiles, hub: h, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
