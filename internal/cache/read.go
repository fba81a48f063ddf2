package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/models"
)

const postColumns = `p.id, p.slug, p.title, p.html, p.feature_image, p.status, p.visibility,
	p.created_at, p.updated_at, p.published_at, p.url, p.excerpt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (models.Post, error) {
	var p models.Post
	var status string
	err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.HTML, &p.FeatureImage, &status, &p.Visibility,
		&p.CreatedAt, &p.UpdatedAt, &p.PublishedAt, &p.URL, &p.Excerpt)
	p.Status = models.Status(status)
	return p, err
}

// GetPost returns a post joined with its authors and tags. It returns an error
// wrapping apperr.ErrNotFound when the post is not cached.
func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache: post %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get post %s: %w", id, err)
	}
	posts := []models.Post{p}
	if err := s.loadRelations(ctx, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

// ListPosts returns a window of cached posts in server page order. Posts that
// have no cursor (saved individually) follow, newest update first.
func (s *Store) ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		LEFT JOIN remote_keys rk ON rk.post_id = p.id
		ORDER BY rk.current_page IS NULL, rk.current_page, rk.rowid, p.updated_at DESC, p.id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("cache: list posts: %w", err)
	}
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("cache: scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: list posts: %w", err)
	}
	if err := s.loadRelations(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountPosts returns the number of cached posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count posts: %w", err)
	}
	return n, nil
}

// Search returns posts whose title, excerpt or body contains query.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		WHERE p.title LIKE ? OR p.excerpt LIKE ? OR p.html LIKE ?
		ORDER BY p.updated_at DESC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: search: %w", err)
	}
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadRelations fills Authors and Tags of every post in place, preserving the
// stored link order.
func (s *Store) loadRelations(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	idx := make(map[string]int, len(posts))
	args := make([]any, len(posts))
	for i := range posts {
		idx[posts[i].ID] = i
		args[i] = posts[i].ID
		posts[i].Authors = []models.Author{}
		posts[i].Tags = []models.Tag{}
	}
	in := placeholders(len(posts))

	rows, err := s.conn.QueryContext(ctx, `
		SELECT pa.post_id, a.id, a.name, a.slug, a.profile_image
		FROM post_authors pa JOIN authors a ON a.id = pa.author_id
		WHERE pa.post_id IN (`+in+`)
		ORDER BY pa.post_id, pa.position
	`, args...)
	if err != nil {
		return fmt.Errorf("cache: load authors: %w", err)
	}
	for rows.Next() {
		var postID string
		var a models.Author
		if err := rows.Scan(&postID, &a.ID, &a.Name, &a.Slug, &a.ProfileImage); err != nil {
			rows.Close()
			return fmt.Errorf("cache: scan author: %w", err)
		}
		i := idx[postID]
		posts[i].Authors = append(posts[i].Authors, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cache: load authors: %w", err)
	}

	rows, err = s.conn.QueryContext(ctx, `
		SELECT pt.post_id, t.id, t.name, t.slug
		FROM post_tags pt JOIN tags t ON t.id = pt.tag_id
		WHERE pt.post_id IN (`+in+`)
		ORDER BY pt.post_id, pt.position
	`, args...)
	if err != nil {
		return fmt.Errorf("cache: load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var postID, tagID string
		var t models.Tag
		if err := rows.Scan(&postID, &tagID, &t.Name, &t.Slug); err != nil {
			return fmt.Errorf("cache: scan tag: %w", err)
		}
		t.ID = models.PersistedTagID(tagID)
		i := idx[postID]
		posts[i].Tags = append(posts[i].Tags, t)
	}
	return rows.Err()
}

// PostTagIDs returns the tag ids linked to a post, in link order.
func (s *Store) PostTagIDs(ctx context.Context, postID string) ([]string, error) {
	return s.linkedIDs(ctx, `SELECT tag_id FROM post_tags WHERE post_id = ? ORDER BY position`, postID)
}

// PostAuthorIDs returns the author ids linked to a post, in link order.
func (s *Store) PostAuthorIDs(ctx context.Context, postID string) ([]string, error) {
	return s.linkedIDs(ctx, `SELECT author_id FROM post_authors WHERE post_id = ? ORDER BY position`, postID)
}

func (s *Store) linkedIDs(ctx context.Context, query, postID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("cache: linked ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RemoteKeyByPostID returns the cursor recorded for a post, or nil if none.
func (s *Store) RemoteKeyByPostID(ctx context.Context, postID string) (*models.RemoteKey, error) {
	var k models.RemoteKey
	var prev, next sql.NullInt64
	err := s.conn.QueryRowContext(ctx, `
		SELECT post_id, prev_key, next_key, current_page, created_at
		FROM remote_keys WHERE post_id = ?
	`, postID).Scan(&k.PostID, &prev, &next, &k.CurrentPage, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: remote key %s: %w", postID, err)
	}
	k.PrevKey = intPtr(prev)
	k.NextKey = intPtr(next)
	return &k, nil
}

// RemoteKeys returns every cursor, ordered by page.
func (s *Store) RemoteKeys(ctx context.Context) ([]models.RemoteKey, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT post_id, prev_key, next_key, current_page, created_at
		FROM remote_keys ORDER BY current_page, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("cache: remote keys: %w", err)
	}
	defer rows.Close()
	var out []models.RemoteKey
	for rows.Next() {
		var k models.RemoteKey
		var prev, next sql.NullInt64
		if err := rows.Scan(&k.PostID, &prev, &next, &k.CurrentPage, &k.CreatedAt); err != nil {
			return nil, err
		}
		k.PrevKey = intPtr(prev)
		k.NextKey = intPtr(next)
		out = append(out, k)
	}
	return out, rows.Err()
}

// LastFetchedAt returns the newest cursor fetch time in epoch milliseconds,
// and false when no cursor exists.
func (s *Store) LastFetchedAt(ctx context.Context) (int64, bool, error) {
	var ts sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(created_at) FROM remote_keys`).Scan(&ts); err != nil {
		return 0, false, fmt.Errorf("cache: last fetched at: %w", err)
	}
	return ts.Int64, ts.Valid, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
