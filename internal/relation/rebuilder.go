// Package relation keeps a cached post's author and tag links equal to the
// post's current author and tag lists.
package relation

import (
	"context"
	"fmt"

	"github.com/starford/ghostly/internal/cache"
	"github.com/starford/ghostly/internal/models"
)

// Rebuild writes the post row, upserts its authors and persisted tags, then
// replaces its links: all existing links are deleted and one link per current
// author and persisted tag is inserted. Pending tags get neither a tag row nor
// a link until the server assigns them an id.
func Rebuild(tx *cache.Tx, p models.Post) error {
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
	if err := tx.InsertPostAuthors(p.ID, AuthorIDs(p)); err != nil {
		return err
	}
	return tx.InsertPostTags(p.ID, PersistedTagIDs(p))
}

// AuthorIDs returns the post's author ids in order.
func AuthorIDs(p models.Post) []string {
	ids := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		ids = append(ids, a.ID)
	}
	return ids
}

// PersistedTagIDs returns the server ids of the post's tags, skipping pending ones.
func PersistedTagIDs(p models.Post) []string {
	ids := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		if id, ok := t.ID.Persisted(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Rebuilder applies Rebuild to single posts, one transaction each.
type Rebuilder struct {
	store *cache.Store
}

// NewRebuilder creates a Rebuilder writing to store.
func NewRebuilder(store *cache.Store) *Rebuilder {
	return &Rebuilder{store: store}
}

// Upsert rebuilds one post and its links atomically.
func (r *Rebuilder) Upsert(ctx context.Context, p models.Post) error {
	if p.ID == "" {
		return fmt.Errorf("relation: upsert: post id is empty")
	}
	return r.store.Update(ctx, func(tx *cache.Tx) error {
		return Rebuild(tx, p)
	})
}
