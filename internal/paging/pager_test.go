package paging_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/paging"
	"github.com/starford/ghostly/internal/relation"
	"github.com/starford/ghostly/internal/testutil"
)

// fakeMediator writes numbered posts into the cache, pageSize per load.
type fakeMediator struct {
	rebuilder *relation.Rebuilder
	pageSize  int
	lastPage  int
	action    paging.InitializeAction
	failWith  error
	block     chan struct{}

	mu     sync.Mutex
	calls  []paging.LoadType
	next   int
	states []paging.State
}

func (m *fakeMediator) Initialize(context.Context) (paging.InitializeAction, error) {
	return m.action, nil
}

func (m *fakeMediator) Load(ctx context.Context, lt paging.LoadType, state paging.State) paging.LoadResult {
	m.mu.Lock()
	m.calls = append(m.calls, lt)
	m.states = append(m.states, state)
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}
	if m.failWith != nil {
		return paging.LoadError{Err: m.failWith}
	}
	if lt == paging.Prepend {
		return paging.LoadSuccess{EndOfPagination: true}
	}

	m.mu.Lock()
	if lt == paging.Refresh {
		m.next = 1
	} else {
		m.next++
	}
	page := m.next
	m.mu.Unlock()

	if page > m.lastPage {
		return paging.LoadSuccess{EndOfPagination: true}
	}
	for i := range m.pageSize {
		p := testutil.Post(fmt.Sprintf("p%02d", (page-1)*m.pageSize+i+1))
		if err := m.rebuilder.Upsert(ctx, p); err != nil {
			return paging.LoadError{Err: err}
		}
	}
	return paging.LoadSuccess{EndOfPagination: page == m.lastPage}
}

func (m *fakeMediator) Calls() []paging.LoadType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]paging.LoadType(nil), m.calls...)
}

func ids(posts []models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func newPager(t *testing.T, m *fakeMediator) *paging.Pager {
	t.Helper()
	store := testutil.TestStore(t)
	m.rebuilder = relation.NewRebuilder(store)
	p := paging.NewPager(store, m, m.pageSize, testutil.Logger())
	t.Cleanup(p.Close)
	return p
}

func TestStartLaunchesRefresh(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 3}
	p := newPager(t, m)

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, []paging.LoadType{paging.Refresh}, m.Calls())

	snap := p.Snapshot()
	assert.Equal(t, []string{"p01", "p02"}, ids(snap.Posts))
	assert.False(t, snap.Refresh.Loading)
	assert.False(t, snap.Refresh.EndOfPagination)
}

func TestStartSkipsRefresh(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 3, action: paging.SkipInitialRefresh}
	p := newPager(t, m)

	require.NoError(t, p.Start(context.Background()))
	assert.Empty(t, m.Calls())
	assert.Empty(t, p.Snapshot().Posts)
}

func TestStartTwice(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 1}
	p := newPager(t, m)
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))
}

func TestAppendUntilEnd(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 2}
	p := newPager(t, m)
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Append(ctx))
	snap := p.Snapshot()
	assert.Equal(t, []string{"p01", "p02", "p03", "p04"}, ids(snap.Posts))
	assert.True(t, snap.Append.EndOfPagination)

	// The end was reached; further appends stay local.
	require.NoError(t, p.Append(ctx))
	assert.Equal(t, []paging.LoadType{paging.Refresh, paging.Append}, m.Calls())
}

func TestAppendPassesLoadedState(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 3}
	p := newPager(t, m)
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Append(ctx))

	m.mu.Lock()
	state := m.states[1]
	m.mu.Unlock()
	last := state.LastItem()
	require.NotNil(t, last)
	assert.Equal(t, "p02", last.ID)
	assert.Equal(t, "p01", state.FirstItem().ID)
}

func TestAppendUsesCacheFirst(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 3, action: paging.SkipInitialRefresh}
	p := newPager(t, m)
	ctx := context.Background()

	for _, post := range testutil.Posts(4) {
		require.NoError(t, m.rebuilder.Upsert(ctx, post))
	}
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Append(ctx))

	assert.Len(t, p.Snapshot().Posts, 4)
	assert.Empty(t, m.Calls())
}

func TestFailedLoadKeepsPosts(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 3}
	p := newPager(t, m)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	boom := errors.New("offline")
	m.failWith = boom
	err := p.Append(ctx)
	require.ErrorIs(t, err, boom)

	snap := p.Snapshot()
	assert.Len(t, snap.Posts, 2)
	assert.ErrorIs(t, snap.Append.Err, boom)
	assert.NoError(t, snap.Refresh.Err)

	err = p.Refresh(ctx)
	require.ErrorIs(t, err, boom)
	assert.Len(t, p.Snapshot().Posts, 2)
}

func TestPrependEnd(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 1}
	p := newPager(t, m)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.Prepend(ctx))
	assert.True(t, p.Snapshot().Prepend.EndOfPagination)
	require.NoError(t, p.Prepend(ctx))
	assert.Equal(t, []paging.LoadType{paging.Refresh, paging.Prepend}, m.Calls())
}

func TestCancelledLoadIsDiscarded(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 3, action: paging.SkipInitialRefresh, block: make(chan struct{})}
	p := newPager(t, m)
	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Refresh(ctx) }()

	require.Eventually(t, func() bool { return len(m.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(m.block)

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, p.Snapshot().Refresh.Loading)
}

func TestOneLoadAtATime(t *testing.T) {
	block := make(chan struct{})
	m := &fakeMediator{pageSize: 2, lastPage: 5, action: paging.SkipInitialRefresh, block: block}
	p := newPager(t, m)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = p.Refresh(ctx) }()
	go func() { defer wg.Done(); _ = p.Refresh(ctx) }()

	require.Eventually(t, func() bool { return len(m.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	// The second refresh waits for the first to finish.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, m.Calls(), 1)

	close(block)
	wg.Wait()
	assert.Len(t, m.Calls(), 2)
}

func TestUpdatesFollowCache(t *testing.T) {
	m := &fakeMediator{pageSize: 3, lastPage: 1, action: paging.SkipInitialRefresh}
	p := newPager(t, m)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, m.rebuilder.Upsert(ctx, testutil.Post("p1")))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-p.Updates():
			if len(snap.Posts) == 1 {
				assert.Equal(t, "p1", snap.Posts[0].ID)
				return
			}
		case <-deadline:
			t.Fatal("pager never saw the cached post")
		}
	}
}

func TestCloseClosesUpdates(t *testing.T) {
	m := &fakeMediator{pageSize: 2, lastPage: 1}
	p := newPager(t, m)
	require.NoError(t, p.Start(context.Background()))
	p.Close()

	for range p.Updates() {
	}
}

func TestStateHelpers(t *testing.T) {
	empty := paging.State{AnchorPosition: -1}
	assert.Nil(t, empty.FirstItem())
	assert.Nil(t, empty.LastItem())
	assert.Nil(t, empty.ClosestItemToPosition(0))

	s := paging.State{Pages: [][]models.Post{testutil.Posts(2), {testutil.Post("p3")}}}
	assert.Equal(t, "p1", s.FirstItem().ID)
	assert.Equal(t, "p3", s.LastItem().ID)
	assert.Equal(t, "p2", s.ClosestItemToPosition(1).ID)
	assert.Equal(t, "p3", s.ClosestItemToPosition(2).ID)
	assert.Equal(t, "p3", s.ClosestItemToPosition(99).ID)
	assert.Nil(t, s.ClosestItemToPosition(-1), "no anchor")
	assert.Nil(t, s.ClosestItemToPosition(-5))
}
