// Package repository is the single entry point the shells use to read and
// edit posts. Reads come from the cache; edits go to the server first and are
// written to the cache only when the server accepts them.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/cache"
	"github.com/starford/ghostly/internal/ghost"
	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/paging"
	"github.com/starford/ghostly/internal/postsync"
	"github.com/starford/ghostly/internal/relation"
)

// TimestampLayout is the format of the timestamps the admin API exchanges.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Repository composes the cache, the remote client and the synchronizer.
type Repository struct {
	store     *cache.Store
	remote    ghost.Remote
	rebuilder *relation.Rebuilder
	mediator  *postsync.Mediator
	pageSize  int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Repository.
type Option func(*config)

type config struct {
	pageSize int
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// WithPageSize sets the number of posts fetched per page.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// WithStalenessWindow sets how long a fetched list is trusted.
func WithStalenessWindow(d time.Duration) Option {
	return func(c *config) { c.window = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates a repository over store and remote.
func New(store *cache.Store, remote ghost.Remote, opts ...Option) *Repository {
	cfg := config{
		pageSize: 15,
		window:   postsync.DefaultStalenessWindow,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository{
		store:     store,
		remote:    remote,
		rebuilder: relation.NewRebuilder(store),
		mediator: postsync.NewMediator(store, remote, cfg.pageSize,
			postsync.WithStalenessWindow(cfg.window),
			postsync.WithClock(cfg.now),
			postsync.WithLogger(cfg.logger)),
		pageSize: cfg.pageSize,
		now:      cfg.now,
		logger:   cfg.logger,
	}
}

// Store returns the underlying cache.
func (r *Repository) Store() *cache.Store {
	return r.store
}

// ObserveList starts a pager over the cached list; the synchronizer fetches
// pages it does not have. The pager is closed when ctx ends.
func (r *Repository) ObserveList(ctx context.Context, pageSize int) *paging.Pager {
	if pageSize <= 0 {
		pageSize = r.pageSize
	}
	pager := paging.NewPager(r.store, r.mediator, pageSize, r.logger)
	go func() {
		if err := pager.Start(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("repository: list start", slog.String("error", err.Error()))
		}
		<-ctx.Done()
		pager.Close()
	}()
	return pager
}

// SyncResult summarises a Sync call.
type SyncResult struct {
	Posts           int  `json:"posts"`
	Refreshed       bool `json:"refreshed"`
	EndOfPagination bool `json:"end_of_pagination"`
}

// Sync loads up to pages pages into the cache. Without force, the first page
// is only refetched when the cache is stale. pages <= 0 loads everything.
func (r *Repository) Sync(ctx context.Context, pages int, force bool) (SyncResult, error) {
	var res SyncResult
	pager := paging.NewPager(r.store, r.mediator, r.pageSize, r.logger)
	defer pager.Close()

	action, err := r.mediator.Initialize(ctx)
	if err != nil {
		return res, err
	}
	// Start already refreshes a stale cache; force only matters when fresh.
	force = force && action == paging.SkipInitialRefresh
	res.Refreshed = action == paging.LaunchInitialRefresh

	if err := pager.Start(ctx); err != nil {
		return res, err
	}
	if force {
		if err := pager.Refresh(ctx); err != nil {
			return res, err
		}
		res.Refreshed = true
	}

	for loaded := 1; pages <= 0 || loaded < pages; loaded++ {
		before := len(pager.Snapshot().Posts)
		if err := pager.Append(ctx); err != nil {
			return res, err
		}
		snap := pager.Snapshot()
		if snap.Append.EndOfPagination || len(snap.Posts) == before {
			break
		}
	}

	snap := pager.Snapshot()
	res.Posts = len(snap.Posts)
	res.EndOfPagination = snap.Append.EndOfPagination
	return res, nil
}

// RefreshAt refetches the server page holding the post at position in the
// cached list. The refreshed page replaces the cache.
func (r *Repository) RefreshAt(ctx context.Context, position int) (SyncResult, error) {
	var res SyncResult
	if position < 0 {
		return res, fmt.Errorf("repository: negative position %d", position)
	}
	pager := paging.NewPager(r.store, r.mediator, r.pageSize, r.logger)
	defer pager.Close()

	if err := pager.Start(ctx); err != nil {
		return res, err
	}
	for len(pager.Snapshot().Posts) <= position {
		before := len(pager.Snapshot().Posts)
		if err := pager.Append(ctx); err != nil {
			return res, err
		}
		snap := pager.Snapshot()
		if snap.Append.EndOfPagination || len(snap.Posts) == before {
			break
		}
	}

	pager.SetAnchor(position)
	if err := pager.Refresh(ctx); err != nil {
		return res, err
	}
	snap := pager.Snapshot()
	res.Posts = len(snap.Posts)
	res.Refreshed = true
	res.EndOfPagination = snap.Append.EndOfPagination
	return res, nil
}

// ObservePost streams a post from the cache. While the cache has no row for
// id, seed is sent instead when it is non-nil.
func (r *Repository) ObservePost(ctx context.Context, id string, seed *models.Post) <-chan models.Post {
	out := make(chan models.Post)
	in := r.store.ObservePost(ctx, id)
	go func() {
		defer close(out)
		for p := range in {
			switch {
			case p != nil:
			case seed != nil:
				p = seed
			default:
				continue
			}
			select {
			case out <- *p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// GetPost returns a cached post.
func (r *Repository) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return r.store.GetPost(ctx, id)
}

// ListPosts returns a window of the cached list.
func (r *Repository) ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error) {
	return r.store.ListPosts(ctx, offset, limit)
}

// CountPosts returns the number of cached posts.
func (r *Repository) CountPosts(ctx context.Context) (int, error) {
	return r.store.CountPosts(ctx)
}

// Search finds cached posts containing query.
func (r *Repository) Search(ctx context.Context, query string, limit int) ([]models.Post, error) {
	return r.store.Search(ctx, query, limit)
}

// Invalidate drops the whole cache.
func (r *Repository) Invalidate(ctx context.Context) error {
	r.logger.Info("repository: invalidating cache")
	return r.store.Invalidate(ctx)
}

// Save sends post to the server. post.UpdatedAt must be the last value seen
// for it. On success the server's answer is merged with the local copy,
// written to the cache and returned; on failure the cache is untouched.
func (r *Repository) Save(ctx context.Context, post models.Post) (models.Post, error) {
	if err := post.Validate(); err != nil {
		return models.Post{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	log := r.logger.With(slog.String("post_id", post.ID))

	resp, err := r.remote.UpdatePost(ctx, post.ID, ghost.NewUpdateRequest(post))
	if err != nil {
		if apperr.IsUnauthorized(err) {
			log.Warn("repository: save rejected, credentials invalid")
		} else {
			log.Warn("repository: save failed", slog.String("error", err.Error()))
		}
		return models.Post{}, err
	}
	dto := resp.First()
	if dto == nil {
		return models.Post{}, apperr.MissingData("update response for post " + post.ID)
	}

	local := post
	cached, err := r.store.GetPost(ctx, post.ID)
	switch {
	case err == nil:
		local.Slug = cached.Slug
		local.CreatedAt = cached.CreatedAt
	case !errors.Is(err, apperr.ErrNotFound):
		return models.Post{}, err
	}

	merged := dto.ToPost(&local)
	if err := r.rebuilder.Upsert(ctx, merged); err != nil {
		return models.Post{}, err
	}
	log.Info("repository: post saved", slog.String("updated_at", merged.UpdatedAt))
	return merged, nil
}

// RefreshFromServer refetches one post and merges it into the cache the same
// way Save does.
func (r *Repository) RefreshFromServer(ctx context.Context, id string) (models.Post, error) {
	resp, err := r.remote.FetchPost(ctx, id)
	if err != nil {
		return models.Post{}, err
	}
	dto := resp.First()
	if dto == nil {
		return models.Post{}, apperr.MissingData("post " + id)
	}

	var local *models.Post
	cached, err := r.store.GetPost(ctx, id)
	switch {
	case err == nil:
		local = cached
	case !errors.Is(err, apperr.ErrNotFound):
		return models.Post{}, err
	}

	merged := dto.ToPost(local)
	if err := r.rebuilder.Upsert(ctx, merged); err != nil {
		return models.Post{}, err
	}
	r.logger.Debug("repository: post refreshed", slog.String("post_id", id))
	return merged, nil
}

// ChangeStatus sets the post's status, stamps UpdatedAt with the current
// time and saves it.
func (r *Repository) ChangeStatus(ctx context.Context, post models.Post, status models.Status) (models.Post, error) {
	post.Status = status
	post.UpdatedAt = r.now().UTC().Format(TimestampLayout)
	return r.Save(ctx, post)
}

// Publish changes the post's status to published.
func (r *Repository) Publish(ctx context.Context, post models.Post) (models.Post, error) {
	return r.ChangeStatus(ctx, post, models.StatusPublished)
}

// Unpublish changes the post's status back to draft.
func (r *Repository) Unpublish(ctx context.Context, post models.Post) (models.Post, error) {
	return r.ChangeStatus(ctx, post, models.StatusDraft)
}

// SaveLatest saves post using the server's current UpdatedAt instead of the
// one post carries, overwriting any edit made elsewhere since.
func (r *Repository) SaveLatest(ctx context.Context, post models.Post) (models.Post, error) {
	resp, err := r.remote.FetchPost(ctx, post.ID)
	if err != nil {
		return models.Post{}, err
	}
	dto := resp.First()
	if dto == nil {
		return models.Post{}, apperr.MissingData("post " + post.ID)
	}
	post.UpdatedAt = dto.UpdatedAt
	return r.Save(ctx, post)
}

// SaveAndRefresh saves post and then refetches it to pick up fields the
// update response leaves out. If only the refetch fails, the saved post is
// returned.
func (r *Repository) SaveAndRefresh(ctx context.Context, post models.Post) (models.Post, error) {
	saved, err := r.Save(ctx, post)
	if err != nil {
		return models.Post{}, err
	}
	refreshed, err := r.RefreshFromServer(ctx, saved.ID)
	if err != nil {
		r.logger.Warn("repository: refresh after save failed, keeping saved copy",
			slog.String("post_id", saved.ID),
			slog.String("error", err.Error()))
		return saved, nil
	}
	return refreshed, nil
}
