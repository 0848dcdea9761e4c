package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns the mux served by the ProcessDocuments function.
func NewRouter(app *App) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	RegisterRoutes(r, app)
	return r
}

func RegisterRoutes(r chi.Router, app *App) {
	r.Get("/health", app.healthHandler)
	r.Post("/", app.processDocumentsHandler)
	r.Post("/process-documents", app.processDocumentsHandler)
}
