package paging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/notify"
)

// Source is the local, ordered post list the pager reads from.
type Source interface {
	ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error)
	Broker() *notify.Broker
}

// LoadState is the status of one load direction.
type LoadState struct {
	Loading         bool  `json:"loading"`
	EndOfPagination bool  `json:"end_of_pagination"`
	Err             error `json:"-"`
}

// Snapshot is the list as currently loaded plus the status of each direction.
type Snapshot struct {
	Posts   []models.Post
	Refresh LoadState
	Prepend LoadState
	Append  LoadState
}

// Pager exposes a growing window over the cached list. Only one load runs at
// a time; the window is re-read whenever the cache changes.
type Pager struct {
	source   Source
	mediator RemoteMediator
	pageSize int
	logger   *slog.Logger

	loadMu sync.Mutex

	mu           sync.Mutex
	posts        []models.Post
	limit        int
	anchor       int
	refreshState LoadState
	prependState LoadState
	appendState  LoadState
	updates      chan Snapshot
	closed       bool

	stop context.CancelFunc
	done chan struct{}
}

// NewPager creates a pager reading pageSize posts at a time.
func NewPager(source Source, mediator RemoteMediator, pageSize int, logger *slog.Logger) *Pager {
	if pageSize <= 0 {
		pageSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pager{
		source:   source,
		mediator: mediator,
		pageSize: pageSize,
		logger:   logger,
		anchor:   -1,
		updates:  make(chan Snapshot, 1),
	}
}

// Updates delivers the latest snapshot. Slow readers only see the newest one.
func (p *Pager) Updates() <-chan Snapshot {
	return p.updates
}

// Snapshot returns the current snapshot.
func (p *Pager) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// SetAnchor records the index of the post the reader is looking at. A later
// refresh reloads the page around it.
func (p *Pager) SetAnchor(pos int) {
	p.mu.Lock()
	p.anchor = pos
	p.mu.Unlock()
}

// Start asks the mediator whether to refresh, runs that refresh if needed,
// reads the first page and begins following cache changes. The returned error
// is the refresh failure, if any; the cached list is loaded regardless.
func (p *Pager) Start(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return errors.New("paging: pager already started")
	}
	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	p.stop = stop
	p.done = make(chan struct{})
	p.limit = p.pageSize
	p.mu.Unlock()

	go p.follow(watchCtx)

	action, err := p.mediator.Initialize(ctx)
	if err != nil {
		p.logger.Warn("paging: initialize failed", slog.String("error", err.Error()))
		action = LaunchInitialRefresh
	}
	p.logger.Debug("paging: initialize", slog.String("action", action.String()))

	var loadErr error
	if action == LaunchInitialRefresh {
		loadErr = p.remote(ctx, Refresh)
	}
	if err := p.reload(ctx); err != nil {
		return err
	}
	return loadErr
}

// Refresh reloads from the server around the anchor and resets the window to
// one page.
func (p *Pager) Refresh(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	loadErr := p.remote(ctx, Refresh)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	if loadErr == nil {
		p.limit = p.pageSize
	}
	p.mu.Unlock()
	if err := p.reload(ctx); err != nil {
		return err
	}
	return loadErr
}

// Append grows the window by one page, fetching the next server page when
// the cache has run out.
func (p *Pager) Append(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	p.mu.Lock()
	offset := p.limit
	end := p.appendState.EndOfPagination
	p.mu.Unlock()

	more, err := p.source.ListPosts(ctx, offset, p.pageSize)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.limit += p.pageSize
	p.mu.Unlock()
	if err := p.reload(ctx); err != nil {
		return err
	}
	if len(more) == p.pageSize || end {
		return nil
	}

	loadErr := p.remote(ctx, Append)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := p.reload(ctx); err != nil {
		return err
	}
	return loadErr
}

// Prepend fetches the server page before the first loaded post, if any.
func (p *Pager) Prepend(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	p.mu.Lock()
	end := p.prependState.EndOfPagination
	p.mu.Unlock()
	if end {
		return nil
	}

	loadErr := p.remote(ctx, Prepend)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	p.limit += p.pageSize
	p.mu.Unlock()
	if err := p.reload(ctx); err != nil {
		return err
	}
	return loadErr
}

// Close stops following cache changes and closes Updates.
func (p *Pager) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	stop, done := p.stop, p.done
	close(p.updates)
	p.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

// remote runs one mediator load and records its outcome. Results of a load
// whose ctx ended are dropped.
func (p *Pager) remote(ctx context.Context, lt LoadType) error {
	p.setState(lt, func(s *LoadState) { s.Loading = true; s.Err = nil })

	res := p.mediator.Load(ctx, lt, p.state())

	if ctx.Err() != nil {
		p.setState(lt, func(s *LoadState) { s.Loading = false })
		return ctx.Err()
	}

	switch r := res.(type) {
	case LoadSuccess:
		p.logger.Debug("paging: load done",
			slog.String("type", lt.String()),
			slog.Bool("end_of_pagination", r.EndOfPagination))
		p.setState(lt, func(s *LoadState) { *s = LoadState{EndOfPagination: r.EndOfPagination} })
		if lt == Refresh {
			p.mu.Lock()
			p.prependState, p.appendState = LoadState{}, LoadState{}
			p.mu.Unlock()
		}
		return nil
	case LoadError:
		p.logger.Warn("paging: load failed",
			slog.String("type", lt.String()),
			slog.String("error", r.Err.Error()))
		p.setState(lt, func(s *LoadState) { *s = LoadState{Err: r.Err} })
		return r.Err
	}
	return nil
}

func (p *Pager) setState(lt LoadType, fn func(*LoadState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch lt {
	case Refresh:
		fn(&p.refreshState)
	case Prepend:
		fn(&p.prependState)
	case Append:
		fn(&p.appendState)
	}
	p.emitLocked()
}

func (p *Pager) state() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := State{AnchorPosition: p.anchor, PageSize: p.pageSize}
	for start := 0; start < len(p.posts); start += p.pageSize {
		end := min(start+p.pageSize, len(p.posts))
		s.Pages = append(s.Pages, p.posts[start:end])
	}
	return s
}

func (p *Pager) reload(ctx context.Context) error {
	p.mu.Lock()
	limit := p.limit
	p.mu.Unlock()

	posts, err := p.source.ListPosts(ctx, 0, limit)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = posts
	p.emitLocked()
	return nil
}

// follow re-reads the window after every cache write.
func (p *Pager) follow(ctx context.Context) {
	defer close(p.done)
	events := p.source.Broker().Subscribe()
	defer p.source.Broker().Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == notify.TypeListUpdated {
				continue
			}
			if err := p.reload(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("paging: reload failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Pager) snapshotLocked() Snapshot {
	return Snapshot{
		Posts:   p.posts,
		Refresh: p.refreshState,
		Prepend: p.prependState,
		Append:  p.appendState,
	}
}

func (p *Pager) emitLocked() {
	if p.closed {
		return
	}
	select {
	case <-p.updates:
	default:
	}
	p.updates <- p.snapshotLocked()
}
