package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/repository"
)

const (
	defaultLimit = 15
	maxLimit     = 100
)

// Posts is the part of the repository the handlers use.
type Posts interface {
	ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error)
	CountPosts(ctx context.Context) (int, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	Search(ctx context.Context, query string, limit int) ([]models.Post, error)
	SaveAndRefresh(ctx context.Context, post models.Post) (models.Post, error)
	SaveLatest(ctx context.Context, post models.Post) (models.Post, error)
	Publish(ctx context.Context, post models.Post) (models.Post, error)
	Unpublish(ctx context.Context, post models.Post) (models.Post, error)
	RefreshFromServer(ctx context.Context, id string) (models.Post, error)
	Sync(ctx context.Context, pages int, force bool) (repository.SyncResult, error)
	RefreshAt(ctx context.Context, position int) (repository.SyncResult, error)
	Invalidate(ctx context.Context) error
}

// Handler holds API route handlers.
type Handler struct {
	posts Posts
}

// NewHandler creates a new Handler.
func NewHandler(posts Posts) *Handler {
	return &Handler{posts: posts}
}

func clampLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

// ListPosts handles GET /api/posts.
//
//	@Summary		List cached posts in server order
//	@Tags			posts
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Offset"
//	@Success		200		{object}	PostListResponse
//	@Security		BearerAuth
//	@Router			/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampLimit(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	offset = max(offset, 0)

	items, err := h.posts.ListPosts(r.Context(), offset, limit)
	if err != nil {
		writeError(w, "list posts", err)
		return
	}
	total, err := h.posts.CountPosts(r.Context())
	if err != nil {
		writeError(w, "count posts", err)
		return
	}
	if items == nil {
		items = []models.Post{}
	}
	writeJSON(w, http.StatusOK, PostListResponse{Posts: items, Total: total, Offset: offset, Limit: limit})
}

// GetPost handles GET /api/posts/{id}.
//
//	@Summary		Get a cached post
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	models.Post
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{id} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, err := h.posts.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, "get post", err, slog.String("post_id", id))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// UpdatePost handles PUT /api/posts/{id}.
//
//	@Summary		Save an edit to the server, then cache it
//	@Tags			posts
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Post id"
//	@Param			If-Match	header		string				false	"updated_at the edit is based on"
//	@Param			latest		query		bool				false	"Overwrite edits made elsewhere"
//	@Param			body		body		UpdatePostRequest	true	"Fields to change"
//	@Success		200			{object}	models.Post
//	@Failure		400			{object}	errResponse
//	@Failure		401			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{id} [put]
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := chi.URLParam(r, "id")

	var req UpdatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		req.UpdatedAt = ifMatch
	}

	base, err := h.posts.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, "update post", err, slog.String("post_id", id))
		return
	}
	edited := req.apply(*base)

	var saved models.Post
	if latest, _ := strconv.ParseBool(r.URL.Query().Get("latest")); latest {
		saved, err = h.posts.SaveLatest(r.Context(), edited)
	} else {
		saved, err = h.posts.SaveAndRefresh(r.Context(), edited)
	}
	if err != nil {
		writeError(w, "update post", err, slog.String("post_id", id))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Publish handles POST /api/posts/{id}/publish.
//
//	@Summary		Publish a cached post
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	models.Post
//	@Failure		401	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{id}/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "publish post", h.posts.Publish)
}

// Unpublish handles POST /api/posts/{id}/unpublish.
//
//	@Summary		Move a post back to draft
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	models.Post
//	@Failure		401	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{id}/unpublish [post]
func (h *Handler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "unpublish post", h.posts.Unpublish)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, op string, change func(context.Context, models.Post) (models.Post, error)) {
	id := chi.URLParam(r, "id")
	post, err := h.posts.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, op, err, slog.String("post_id", id))
		return
	}
	saved, err := change(r.Context(), *post)
	if err != nil {
		writeError(w, op, err, slog.String("post_id", id))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// RefreshPost handles POST /api/posts/{id}/refresh.
//
//	@Summary		Refetch a post from the server
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	models.Post
//	@Failure		401	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{id}/refresh [post]
func (h *Handler) RefreshPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, err := h.posts.RefreshFromServer(r.Context(), id)
	if err != nil {
		writeError(w, "refresh post", err, slog.String("post_id", id))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// Sync handles POST /api/sync.
//
//	@Summary		Load pages from the server into the cache
//	@Tags			sync
//	@Produce		json
//	@Param			pages	query		int		false	"Pages to load, 0 for all"
//	@Param			force	query		bool	false	"Refetch the first page even when fresh"
//	@Param			anchor	query		int		false	"Refetch only the page holding this list position"
//	@Success		200		{object}	SyncResponse
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pages, _ := strconv.Atoi(q.Get("pages"))
	force, _ := strconv.ParseBool(q.Get("force"))

	var res repository.SyncResult
	var err error
	if a := q.Get("anchor"); a != "" {
		anchor, convErr := strconv.Atoi(a)
		if convErr != nil || anchor < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("anchor must be a non-negative integer"))
			return
		}
		res, err = h.posts.RefreshAt(r.Context(), anchor)
	} else {
		res, err = h.posts.Sync(r.Context(), pages, force)
	}
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Invalidate handles DELETE /api/cache.
//
//	@Summary		Drop every cached post and cursor
//	@Tags			sync
//	@Success		204
//	@Security		BearerAuth
//	@Router			/cache [delete]
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.posts.Invalidate(r.Context()); err != nil {
		writeError(w, "invalidate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Search cached posts
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter q is required"))
		return
	}
	results, err := h.posts.Search(r.Context(), q, clampLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	if results == nil {
		results = []models.Post{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
