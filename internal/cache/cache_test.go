package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func post(id string) models.Post {
	return models.Post{
		ID:        id,
		Slug:      "slug-" + id,
		Title:     "Title " + id,
		HTML:      "<p>body " + id + "</p>",
		Status:    models.StatusDraft,
		CreatedAt: "2024-01-01T00:00:00.000Z",
		UpdatedAt: "2024-01-02T00:00:00.000Z",
		Authors:   []models.Author{{ID: "a-1", Name: "Ada", Slug: "ada"}},
		Tags:      []models.Tag{{ID: models.PersistedTagID("t-1"), Name: "News", Slug: "news"}},
	}
}

// writePost stores a post with its links the same way the rebuilder does.
func writePost(t *testing.T, s *Store, p models.Post) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *Tx) error {
		if err := tx.UpsertPost(p); err != nil {
			return err
		}
		if err := tx.UpsertAuthors(p.Authors); err != nil {
			return err
		}
		if err := tx.UpsertTags(p.Tags); err != nil {
			return err
		}
		if err := tx.DeletePostLinks(p.ID); err != nil {
			return err
		}
		var authors, tags []string
		for _, a := range p.Authors {
			authors = append(authors, a.ID)
		}
		for _, tg := range p.Tags {
			if id, ok := tg.ID.Persisted(); ok {
				tags = append(tags, id)
			}
		}
		if err := tx.InsertPostAuthors(p.ID, authors); err != nil {
			return err
		}
		return tx.InsertPostTags(p.ID, tags)
	})
	require.NoError(t, err)
}

func intp(v int) *int { return &v }

func TestSchemaCreation(t *testing.T) {
	s := testStore(t)
	for _, table := range []string{"posts", "authors", "tags", "post_authors", "post_tags", "remote_keys"} {
		var n int
		err := s.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n)
		assert.NoError(t, err, table)
	}
}

func TestSingleConnection(t *testing.T) {
	s := testStore(t)
	assert.Equal(t, 1, s.conn.Stats().MaxOpenConnections)

	// Concurrent writers and readers take turns on the one connection.
	ctx := context.Background()
	errs := make(chan error, 20)
	for i := range 10 {
		go func() {
			errs <- s.Update(ctx, func(tx *Tx) error {
				return tx.UpsertPost(post(fmt.Sprintf("p%02d", i)))
			})
		}()
		go func() {
			_, err := s.ListPosts(ctx, 0, 100)
			errs <- err
		}()
	}
	for range 20 {
		require.NoError(t, <-errs)
	}
	n, err := s.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	writePost(t, s, post("p1"))
	require.NoError(t, s.Close())

	s, err = Open(path, nil, nil)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetPostJoinsRelations(t *testing.T) {
	s := testStore(t)
	p := post("p1")
	p.Authors = append(p.Authors, models.Author{ID: "a-2", Name: "Bob", Slug: "bob"})
	writePost(t, s, p)

	got, err := s.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, p, *got)
}

func TestGetPostNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetPost(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUpsertPostKeepsLinks(t *testing.T) {
	s := testStore(t)
	writePost(t, s, post("p1"))

	edited := post("p1")
	edited.Title = "Changed"
	err := s.Update(context.Background(), func(tx *Tx) error { return tx.UpsertPost(edited) })
	require.NoError(t, err)

	tags, err := s.PostTagIDs(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, tags)

	got, err := s.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.Title)
}

func TestPendingTagsSkipped(t *testing.T) {
	s := testStore(t)
	p := post("p1")
	p.Tags = append(p.Tags, models.NewPendingTag("Later"))
	writePost(t, s, p)

	var n int
	require.NoError(t, s.conn.QueryRow(`SELECT count(*) FROM tags`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := testStore(t)
	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tx *Tx) error {
		if err := tx.UpsertPost(post("p1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListPostsPageOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	// Written out of order; cursors decide the list order.
	for _, id := range []string{"p3", "p1", "p2"} {
		writePost(t, s, post(id))
	}
	loose := post("p0")
	loose.UpdatedAt = "2030-01-01T00:00:00.000Z"
	writePost(t, s, loose)

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertRemoteKeys([]models.RemoteKey{
			{PostID: "p1", NextKey: intp(2), CurrentPage: 1, CreatedAt: 1},
			{PostID: "p2", NextKey: intp(2), CurrentPage: 1, CreatedAt: 1},
			{PostID: "p3", PrevKey: intp(1), CurrentPage: 2, CreatedAt: 2},
		})
	})
	require.NoError(t, err)

	list, err := s.ListPosts(ctx, 0, 10)
	require.NoError(t, err)
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p1", "p2", "p3", "p0"}, ids)

	window, err := s.ListPosts(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "p2", window[0].ID)
	assert.Equal(t, "p3", window[1].ID)
}

func TestRemoteKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	writePost(t, s, post("p1"))
	writePost(t, s, post("p2"))

	_, ok, err := s.LastFetchedAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.InsertRemoteKeys([]models.RemoteKey{
			{PostID: "p1", NextKey: intp(2), CurrentPage: 1, CreatedAt: 100},
			{PostID: "p2", PrevKey: intp(1), CurrentPage: 2, CreatedAt: 250},
		})
	})
	require.NoError(t, err)

	k, err := s.RemoteKeyByPostID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Nil(t, k.PrevKey)
	assert.Equal(t, 2, *k.NextKey)
	assert.Equal(t, 1, k.CurrentPage)

	missing, err := s.RemoteKeyByPostID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ts, ok, err := s.LastFetchedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(250), ts)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.ClearRemoteKeys() }))
	keys, err := s.RemoteKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRemoteKeyRequiresPost(t *testing.T) {
	s := testStore(t)
	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.InsertRemoteKeys([]models.RemoteKey{{PostID: "ghost", CurrentPage: 1}})
	})
	assert.Error(t, err)
}

func TestDeletePostsExceptCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	writePost(t, s, post("p1"))
	writePost(t, s, post("p2"))

	var removed int64
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.DeletePostsExcept([]string{"p2"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	ids, err := s.PostAuthorIDs(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = s.GetPost(ctx, "p2")
	assert.NoError(t, err)
}

func TestInvalidate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	writePost(t, s, post("p1"))

	require.NoError(t, s.Invalidate(ctx))
	n, err := s.CountPosts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := post("p1")
	a.Title = "Release notes for Go"
	b := post("p2")
	b.HTML = "<p>nothing to see</p>"
	writePost(t, s, a)
	writePost(t, s, b)

	got, err := s.Search(ctx, "Release", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.Len(t, got[0].Tags, 1)

	got, err = s.Search(ctx, "nothing", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].ID)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestObservePost(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.ObservePost(ctx, "p1")
	assert.Nil(t, receive(t, ch))

	writePost(t, s, post("p1"))
	got := receive(t, ch)
	require.NotNil(t, got)
	assert.Equal(t, "Title p1", got.Title)

	// A write to another post does not re-emit; the next value is the edit.
	writePost(t, s, post("p2"))
	edited := post("p1")
	edited.Title = "Edited"
	writePost(t, s, edited)
	got = receive(t, ch)
	require.NotNil(t, got)
	assert.Equal(t, "Edited", got.Title)

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestObservePostAfterSubscriberOverflow(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.ObservePost(ctx, "p1")
	assert.Nil(t, receive(t, ch))
	writePost(t, s, post("p1"))
	require.NotNil(t, receive(t, ch))

	// Nobody reads, so the observer stalls on this value.
	stale := post("p1")
	stale.Title = "Stale"
	writePost(t, s, stale)
	time.Sleep(100 * time.Millisecond)

	// Overflow its 64-event buffer, then touch p1 once more.
	for i := range 80 {
		writePost(t, s, post(fmt.Sprintf("o%02d", i)))
	}
	final := post("p1")
	final.Title = "Final"
	writePost(t, s, final)
	time.Sleep(100 * time.Millisecond)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-ch:
			if p != nil && p.Title == "Final" {
				return
			}
		case <-deadline:
			t.Fatal("observer never caught up with the last write")
		}
	}
}

func TestObservePageSuppressesDuplicates(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.ObservePage(ctx, 0, 10)
	assert.Empty(t, receive(t, ch))

	writePost(t, s, post("p1"))
	assert.Len(t, receive(t, ch), 1)

	// Rewriting identical content changes nothing visible.
	writePost(t, s, post("p1"))
	writePost(t, s, post("p2"))
	assert.Len(t, receive(t, ch), 2)

	require.NoError(t, s.Invalidate(ctx))
	assert.Empty(t, receive(t, ch))
}

func TestObserveManyWrites(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.ObservePage(ctx, 0, 100)
	receive(t, ch)
	for i := range 20 {
		writePost(t, s, post(fmt.Sprintf("p%02d", i)))
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case list := <-ch:
			if len(list) == 20 {
				return
			}
		case <-deadline:
			t.Fatal("never observed all posts")
		}
	}
}
