package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/paperlens/internal/paperservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *paperservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/search", h.Search)
	r.Get("/papers/{id}", h.GetPaper)
	r.Get("/papers/{id}/recommendations", h.Recommendations)
	r.Post("/recommendations/{id}/click", h.RecordClick)
	r.Post("/recommendations/{id}/interactions", h.RecordInteraction)

	r.Get("/bookmarks", h.ListBookmarks)
	r.Post("/bookmarks", h.AddBookmark)
	r.Post("/bookmarks/toggle/{paperID}", h.ToggleBookmark)
	r.Put("/bookmarks/{paperID}", h.UpdateBookmarkNote)
	r.Delete("/bookmarks/{paperID}", h.RemoveBookmark)

	r.Get("/history", h.SearchHistory)
	r.Get("/interests", h.ListInterests)
	r.Put("/interests", h.SaveInterests)
	r.Get("/recently-viewed", h.RecentlyViewed)

	r.Get("/session", h.GetSession)
	r.Post("/session", h.Login)
	r.Delete("/session", h.Logout)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
