// Package api wires the relay's HTTP surface together.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/skillmesh/chatsync/internal/api/middleware"
	"github.com/skillmesh/chatsync/internal/handlers"
	"github.com/skillmesh/chatsync/internal/hub"
	"github.com/skillmesh/chatsync/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, redisStore *store.RedisStore, profiles store.ProfileStore, h *hub.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - clients subscribe from browsers and native apps alike
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	hd := handlers.NewHandler(redisStore, profiles, h, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", hd.Root)
	r.Get("/health", hd.Health)

	// Subscriptions
	r.Get("/ws/rooms/{id}", hd.HandleWS)

	// Messages
	r.Route("/rooms/{id}", func(r chi.Router) {
		r.Post("/messages", hd.PostMessage)
		r.Get("/messages", hd.GetRoomMessages)
		r.Post("/messages/{msgID}/reactions", hd.SetReaction)
		r.Post("/messages/{msgID}/reactions/delete", hd.UnsetReaction)
		r.Post("/read", hd.MarkRead)

		r.Put("/typing/{userID}", hd.UpsertTyping)
		r.Delete("/typing/{userID}", hd.ClearTyping)

		r.Post("/presence", hd.TrackPresence)
	})

	// Profiles
	r.Get("/profiles/{id}", hd.GetProfile)
	r.Put("/profiles/{id}", hd.UpsertProfile)

	return r
}
