package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// events, if non-nil, is served at GET /events behind the same auth.
func NewRouter(posts Posts, authEnabled bool, token string, events http.Handler) chi.Router {
	h := NewHandler(posts)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{id}", h.GetPost)
	r.Put("/posts/{id}", h.UpdatePost)
	r.Post("/posts/{id}/publish", h.Publish)
	r.Post("/posts/{id}/unpublish", h.Unpublish)
	r.Post("/posts/{id}/refresh", h.RefreshPost)

	r.Post("/sync", h.Sync)
	r.Delete("/cache", h.Invalidate)
	r.Get("/search", h.Search)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}
	return r
}
