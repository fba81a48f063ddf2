package cache

import (
	"context"
	"errors"
	"log/slog"
	"reflect"

	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/notify"
)

// ObservePost streams a post (nil while it is not cached). The current value
// is sent first and re-sent after every write that touches the post; identical
// consecutive values are suppressed. The channel closes when ctx ends.
func (s *Store) ObservePost(ctx context.Context, id string) <-chan *models.Post {
	return observe(ctx, s, func(ev notify.Event) bool { return ev.Affects(id) },
		func(ctx context.Context) (*models.Post, error) {
			p, err := s.GetPost(ctx, id)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, nil
			}
			return p, err
		})
}

// ObservePage streams a window of the post list, re-querying after every
// write to the cache.
func (s *Store) ObservePage(ctx context.Context, offset, limit int) <-chan []models.Post {
	return observe(ctx, s, func(ev notify.Event) bool { return ev.Type != notify.TypeListUpdated },
		func(ctx context.Context) ([]models.Post, error) {
			return s.ListPosts(ctx, offset, limit)
		})
}

func observe[T any](ctx context.Context, s *Store, relevant func(notify.Event) bool, query func(context.Context) (T, error)) <-chan T {
	out := make(chan T)
	// Subscribe before the first read so no write can slip in between.
	events := s.broker.Subscribe()

	go func() {
		defer close(out)
		defer s.broker.Unsubscribe(events)

		var last T
		sent := false
		emit := func() bool {
			v, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				s.logger.Warn("cache: live query failed", slog.String("error", err.Error()))
				return true
			}
			if sent && reflect.DeepEqual(v, last) {
				return true
			}
			select {
			case out <- v:
				last, sent = v, true
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if relevant(ev) && !emit() {
					return
				}
			}
		}
	}()
	return out
}
