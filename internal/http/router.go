package http

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/waypoint/server/internal/auth"
	"github.com/waypoint/server/internal/http/handlers"
	"github.com/waypoint/server/internal/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(authHandler *handlers.AuthHandler, sessions *auth.SessionManager, db *sql.DB) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.NewHealthHandler(db).ServeHTTP)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/start", authHandler.HandleStart)
		r.Post("/verify", authHandler.HandleVerify)
		r.Post("/refresh", authHandler.HandleRefresh)

		// Protected routes (require a valid access token on a live session)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(sessions))
			r.Post("/logout", authHandler.HandleLogout)
			r.Post("/logout_all", authHandler.HandleLogoutAll)
			r.Get("/me", authHandler.HandleMe)
		})
	})

	return r
}
