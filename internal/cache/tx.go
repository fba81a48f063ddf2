package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/notify"
)

// Tx exposes row-level writes inside one transaction. It records which posts
// were touched so the store can notify live queries after commit.
type Tx struct {
	ctx         context.Context
	tx          *sql.Tx
	touched     map[string]struct{}
	order       []string
	invalidated bool
}

// Update runs fn in a single transaction. Nothing is written if fn returns an
// error. After a successful commit, subscribers are told which posts changed.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

	tx := &Tx{ctx: ctx, tx: sqlTx, touched: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}
	s.lastWrite.Store(time.Now().UnixNano())

	if tx.invalidated {
		s.broker.Publish(notify.Event{Type: notify.TypePostsInvalidated})
	} else {
		s.broker.PublishChange(tx.order...)
	}
	return nil
}

func (t *Tx) touch(postID string) {
	if _, ok := t.touched[postID]; ok {
		return
	}
	t.touched[postID] = struct{}{}
	t.order = append(t.order, postID)
}

// UpsertPost inserts the post row or updates it in place. It does not touch
// authors, tags or links.
func (t *Tx) UpsertPost(p models.Post) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO posts (id, slug, title, html, feature_image, status, visibility,
		                   created_at, updated_at, published_at, url, excerpt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug          = excluded.slug,
			title         = excluded.title,
			html          = excluded.html,
			feature_image = excluded.feature_image,
			status        = excluded.status,
			visibility    = excluded.visibility,
			created_at    = excluded.created_at,
			updated_at    = excluded.updated_at,
			published_at  = excluded.published_at,
			url           = excluded.url,
			excerpt       = excluded.excerpt
	`, p.ID, p.Slug, p.Title, p.HTML, p.FeatureImage, string(p.Status), p.Visibility,
		p.CreatedAt, p.UpdatedAt, p.PublishedAt, p.URL, p.Excerpt)
	if err != nil {
		return fmt.Errorf("cache: upsert post %s: %w", p.ID, err)
	}
	t.touch(p.ID)
	return nil
}

// UpsertAuthors inserts or updates author rows.
func (t *Tx) UpsertAuthors(authors []models.Author) error {
	if len(authors) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT INTO authors (id, name, slug, profile_image) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			slug          = excluded.slug,
			profile_image = excluded.profile_image
	`)
	if err != nil {
		return fmt.Errorf("cache: prepare author upsert: %w", err)
	}
	defer stmt.Close()
	for _, a := range authors {
		if _, err := stmt.ExecContext(t.ctx, a.ID, a.Name, a.Slug, a.ProfileImage); err != nil {
			return fmt.Errorf("cache: upsert author %s: %w", a.ID, err)
		}
	}
	return nil
}

// UpsertTags inserts or updates tag rows. Pending tags are skipped: they have
// no durable identity to key a row on.
func (t *Tx) UpsertTags(tags []models.Tag) error {
	var stmt *sql.Stmt
	for _, tag := range tags {
		id, ok := tag.ID.Persisted()
		if !ok {
			continue
		}
		if stmt == nil {
			var err error
			stmt, err = t.tx.PrepareContext(t.ctx, `
				INSERT INTO tags (id, name, slug) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					slug = excluded.slug
			`)
			if err != nil {
				return fmt.Errorf("cache: prepare tag upsert: %w", err)
			}
			defer stmt.Close()
		}
		if _, err := stmt.ExecContext(t.ctx, id, tag.Name, tag.Slug); err != nil {
			return fmt.Errorf("cache: upsert tag %s: %w", id, err)
		}
	}
	return nil
}

// DeletePostLinks removes every author and tag link of a post.
func (t *Tx) DeletePostLinks(postID string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM post_authors WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("cache: clear author links %s: %w", postID, err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM post_tags WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("cache: clear tag links %s: %w", postID, err)
	}
	t.touch(postID)
	return nil
}

// InsertPostAuthors links authors to a post in the given order. Repeated ids
// are ignored.
func (t *Tx) InsertPostAuthors(postID string, authorIDs []string) error {
	return t.insertLinks(`INSERT OR IGNORE INTO post_authors (post_id, author_id, position) VALUES (?, ?, ?)`, postID, authorIDs)
}

// InsertPostTags links tags to a post in the given order. Repeated ids are
// ignored.
func (t *Tx) InsertPostTags(postID string, tagIDs []string) error {
	return t.insertLinks(`INSERT OR IGNORE INTO post_tags (post_id, tag_id, position) VALUES (?, ?, ?)`, postID, tagIDs)
}

func (t *Tx) insertLinks(query, postID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(t.ctx, query)
	if err != nil {
		return fmt.Errorf("cache: prepare link insert: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.ExecContext(t.ctx, postID, id, i); err != nil {
			return fmt.Errorf("cache: insert link %s->%s: %w", postID, id, err)
		}
	}
	t.touch(postID)
	return nil
}

// DeletePostsExcept removes every post whose id is not in keep, along with its
// links and cursor (by cascade). It returns the number of posts removed.
func (t *Tx) DeletePostsExcept(keep []string) (int64, error) {
	query := `DELETE FROM posts`
	args := make([]any, len(keep))
	if len(keep) > 0 {
		query += ` WHERE id NOT IN (` + placeholders(len(keep)) + `)`
		for i, id := range keep {
			args[i] = id
		}
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache: delete stale posts: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		t.invalidated = true
	}
	return n, nil
}

// ClearRemoteKeys deletes every page cursor.
func (t *Tx) ClearRemoteKeys() error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM remote_keys`); err != nil {
		return fmt.Errorf("cache: clear remote keys: %w", err)
	}
	return nil
}

// InsertRemoteKeys stores page cursors, replacing any existing cursor for the
// same post. Each cursor's post must already be in the cache.
func (t *Tx) InsertRemoteKeys(keys []models.RemoteKey) error {
	if len(keys) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT OR REPLACE INTO remote_keys (post_id, prev_key, next_key, current_page, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("cache: prepare remote key insert: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(t.ctx, k.PostID, nullInt(k.PrevKey), nullInt(k.NextKey), k.CurrentPage, k.CreatedAt); err != nil {
			return fmt.Errorf("cache: insert remote key %s: %w", k.PostID, err)
		}
	}
	return nil
}

// ClearAll empties every table.
func (t *Tx) ClearAll() error {
	for _, table := range []string{"remote_keys", "post_tags", "post_authors", "posts", "tags", "authors"} {
		if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("cache: clear %s: %w", table, err)
		}
	}
	t.invalidated = true
	return nil
}

// Invalidate drops the whole cache. This is the only way posts leave the
// cache outside a refresh.
func (s *Store) Invalidate(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.ClearAll() })
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
