package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes live under /api/v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", apiHandler.RegisterHandler)
		r.Post("/auth/token", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/auth/profile", apiHandler.ProfileHandler)

			// Document routes
			r.Post("/documents/upload", apiHandler.UploadDocumentsHandler)
			r.Get("/documents", apiHandler.ListDocumentsHandler)

			// Chat routes
			r.Post("/chat", apiHandler.ChatHandler)
			r.Get("/chat/history/{sessionID}", apiHandler.ChatHistoryHandler)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(apiHandler.AdminOnlyMiddleware)

				r.Get("/admin/stats", apiHandler.AdminStatsHandler)
				r.Get("/admin/users", apiHandler.AdminListUsersHandler)
				r.Delete("/admin/users/{username}", apiHandler.AdminDeleteUserHandler)
				r.Get("/admin/documents", apiHandler.AdminListDocumentsHandler)
				r.Delete("/admin/documents/{documentID}", apiHandler.AdminDeleteDocumentHandler)
			})
		})
	})

	return r
}
