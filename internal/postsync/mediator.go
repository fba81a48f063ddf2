// Package postsync fills the post cache from the admin API one page at a
// time and records which page each post came from.
package postsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/cache"
	"github.com/starford/ghostly/internal/ghost"
	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/paging"
	"github.com/starford/ghostly/internal/relation"
)

// DefaultStalenessWindow is how long after a fetch the cache is trusted.
const DefaultStalenessWindow = time.Minute

// Mediator is the paging.RemoteMediator for the post list.
type Mediator struct {
	store    *cache.Store
	remote   ghost.Remote
	pageSize int
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithStalenessWindow overrides DefaultStalenessWindow.
func WithStalenessWindow(d time.Duration) Option {
	return func(m *Mediator) { m.window = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mediator) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mediator) { m.logger = l }
}

// NewMediator creates a mediator fetching pageSize posts per request.
func NewMediator(store *cache.Store, remote ghost.Remote, pageSize int, opts ...Option) *Mediator {
	m := &Mediator{
		store:    store,
		remote:   remote,
		pageSize: pageSize,
		window:   DefaultStalenessWindow,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pageSize <= 0 {
		m.pageSize = 20
	}
	return m
}

var _ paging.RemoteMediator = (*Mediator)(nil)

// Initialize skips the initial refresh while the newest cursor is younger
// than the staleness window. A cursor exactly as old as the window is stale.
func (m *Mediator) Initialize(ctx context.Context) (paging.InitializeAction, error) {
	last, ok, err := m.store.LastFetchedAt(ctx)
	if err != nil {
		return paging.LaunchInitialRefresh, err
	}
	if !ok {
		m.logger.Debug("postsync: no cursors, refreshing")
		return paging.LaunchInitialRefresh, nil
	}
	age := m.now().Sub(time.UnixMilli(last))
	if age < m.window {
		m.logger.Debug("postsync: cache fresh, skipping refresh", slog.Duration("age", age))
		return paging.SkipInitialRefresh, nil
	}
	m.logger.Debug("postsync: cache stale, refreshing", slog.Duration("age", age))
	return paging.LaunchInitialRefresh, nil
}

// Load fetches the page selected by loadType and state and writes it to the
// cache. If ctx ends while the request is in flight, the request completes but
// its result is dropped.
func (m *Mediator) Load(ctx context.Context, loadType paging.LoadType, state paging.State) paging.LoadResult {
	page, res, err := m.targetPage(ctx, loadType, state)
	if err != nil {
		return paging.LoadError{Err: err}
	}
	if res != nil {
		m.logger.Debug("postsync: nothing to load", slog.String("type", loadType.String()))
		return res
	}

	log := m.logger.With(slog.String("type", loadType.String()), slog.Int("page", page))
	log.Debug("postsync: fetching page")

	resp, err := m.remote.FetchPage(context.WithoutCancel(ctx), page, m.pageSize)
	if err != nil {
		log.Warn("postsync: fetch failed", slog.String("error", err.Error()))
		return paging.LoadError{Err: err}
	}
	if resp == nil {
		return paging.LoadError{Err: apperr.MissingData("posts page")}
	}
	if ctx.Err() != nil {
		log.Debug("postsync: caller gone, discarding page")
		return paging.LoadError{Err: ctx.Err()}
	}

	end := len(resp.Posts) == 0
	var prev, next *int
	if page > 1 {
		p := page - 1
		prev = &p
	}
	if !end {
		n := page + 1
		next = &n
	}

	fetchedAt := m.now().UnixMilli()
	posts := make([]models.Post, 0, len(resp.Posts))
	keys := make([]models.RemoteKey, 0, len(resp.Posts))
	ids := make([]string, 0, len(resp.Posts))
	for _, dto := range resp.Posts {
		posts = append(posts, dto.ToPost(nil))
		keys = append(keys, models.RemoteKey{
			PostID:      dto.ID,
			PrevKey:     prev,
			NextKey:     next,
			CurrentPage: page,
			CreatedAt:   fetchedAt,
		})
		ids = append(ids, dto.ID)
	}

	err = m.store.Update(ctx, func(tx *cache.Tx) error {
		if loadType == paging.Refresh {
			if err := tx.ClearRemoteKeys(); err != nil {
				return err
			}
			removed, err := tx.DeletePostsExcept(ids)
			if err != nil {
				return err
			}
			if removed > 0 {
				log.Debug("postsync: dropped posts missing from refresh", slog.Int64("count", removed))
			}
		}
		for _, p := range posts {
			if err := relation.Rebuild(tx, p); err != nil {
				return err
			}
		}
		return tx.InsertRemoteKeys(keys)
	})
	if err != nil {
		log.Error("postsync: write failed", slog.String("error", err.Error()))
		return paging.LoadError{Err: fmt.Errorf("postsync: write page %d: %w", page, err)}
	}

	log.Info("postsync: page stored", slog.Int("posts", len(posts)), slog.Bool("end_of_pagination", end))
	return paging.LoadSuccess{EndOfPagination: end}
}

// targetPage resolves the page to fetch. A non-nil LoadResult means there is
// nothing to fetch in that direction.
func (m *Mediator) targetPage(ctx context.Context, loadType paging.LoadType, state paging.State) (int, paging.LoadResult, error) {
	switch loadType {
	case paging.Refresh:
		key, err := m.keyFor(ctx, state.ClosestItemToPosition(state.AnchorPosition))
		if err != nil {
			return 0, nil, err
		}
		if key != nil && key.NextKey != nil {
			return *key.NextKey - 1, nil, nil
		}
		return 1, nil, nil

	case paging.Prepend:
		key, err := m.keyFor(ctx, state.FirstItem())
		if err != nil {
			return 0, nil, err
		}
		if key == nil || key.PrevKey == nil {
			return 0, paging.LoadSuccess{EndOfPagination: key != nil}, nil
		}
		return *key.PrevKey, nil, nil

	case paging.Append:
		key, err := m.keyFor(ctx, state.LastItem())
		if err != nil {
			return 0, nil, err
		}
		if key == nil || key.NextKey == nil {
			return 0, paging.LoadSuccess{EndOfPagination: key != nil}, nil
		}
		return *key.NextKey, nil, nil
	}
	return 0, nil, fmt.Errorf("postsync: unknown load type %d", loadType)
}

func (m *Mediator) keyFor(ctx context.Context, p *models.Post) (*models.RemoteKey, error) {
	if p == nil {
		return nil, nil
	}
	return m.store.RemoteKeyByPostID(ctx, p.ID)
}
