package router

import (
	"net/http"
	"time"

	"geocaching-backend/internal/handlers"
	"geocaching-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth      *handlers.AuthHandler
	Cache     *handlers.CacheHandler
	Ranking   *handlers.RankingHandler
	User      *handlers.UserHandler
	WebSocket *handlers.WebSocketHandler
}

// New builds the application router
func New(h Handlers, validator middleware.TokenValidator, logger zerolog.Logger, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)
		r.Get("/users/avatar/{userId}", h.User.Avatar)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(validator))

			r.Get("/auth/me", h.Auth.Me)
			r.Post("/auth/logout", h.Auth.Logout)

			r.Route("/caches", func(r chi.Router) {
				r.Get("/", h.Cache.List)
				r.Post("/", h.Cache.Create)
				r.Get("/nearby", h.Cache.Nearby)
				r.Get("/popular", h.Ranking.Popular)
				r.Get("/rarely-found", h.Ranking.RarelyFound)
				r.Get("/{id}", h.Cache.Get)
				r.Put("/{id}", h.Cache.Update)
				r.Delete("/{id}", h.Cache.Delete)
				r.Get("/{id}/photo", h.Cache.Photo)
				r.Post("/{id}/found", h.Cache.Found)
			})

			r.Get("/users/ranking", h.Ranking.Leaderboard)
			r.Post("/users/avatar", h.User.UploadAvatar)
			r.Put("/users/push-token", h.User.UpdatePushToken)
		})
	})

	// WebSocket route, authenticated by the token query parameter
	r.Get("/ws", h.WebSocket.HandleWebSocket)

	return r
}
