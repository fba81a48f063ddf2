// Package paging loads a cached post list page by page and asks a
// RemoteMediator to fill the cache from the server when the list runs out.
package paging

import (
	"context"

	"github.com/starford/ghostly/internal/models"
)

// LoadType is the direction of a remote load.
type LoadType int

const (
	// Refresh reloads the list from a fresh server page.
	Refresh LoadType = iota
	// Prepend loads the page before the first loaded post.
	Prepend
	// Append loads the page after the last loaded post.
	Append
)

func (t LoadType) String() string {
	switch t {
	case Refresh:
		return "refresh"
	case Prepend:
		return "prepend"
	case Append:
		return "append"
	}
	return "unknown"
}

// InitializeAction tells the pager whether to refresh before the first read.
type InitializeAction int

const (
	LaunchInitialRefresh InitializeAction = iota
	SkipInitialRefresh
)

func (a InitializeAction) String() string {
	if a == SkipInitialRefresh {
		return "skip"
	}
	return "launch"
}

// LoadResult is the outcome of a remote load: LoadSuccess or LoadError.
type LoadResult interface {
	loadResult()
}

// LoadSuccess means the cache was updated. EndOfPagination is true when there
// is nothing further in the requested direction.
type LoadSuccess struct {
	EndOfPagination bool
}

// LoadError means the load failed and the cache is unchanged.
type LoadError struct {
	Err error
}

func (LoadSuccess) loadResult() {}
func (LoadError) loadResult()   {}

// State is what the pager has loaded so far.
type State struct {
	Pages [][]models.Post
	// AnchorPosition is the index of the most recently accessed post, or -1.
	AnchorPosition int
	PageSize       int
}

// FirstItem returns the first loaded post, or nil.
func (s State) FirstItem() *models.Post {
	for _, page := range s.Pages {
		if len(page) > 0 {
			return &page[0]
		}
	}
	return nil
}

// LastItem returns the last loaded post, or nil.
func (s State) LastItem() *models.Post {
	for i := len(s.Pages) - 1; i >= 0; i-- {
		if n := len(s.Pages[i]); n > 0 {
			return &s.Pages[i][n-1]
		}
	}
	return nil
}

// ClosestItemToPosition returns the loaded post at pos, clamped to the end of
// the loaded range. It returns nil for a negative pos (no anchor) or when
// nothing is loaded.
func (s State) ClosestItemToPosition(pos int) *models.Post {
	if pos < 0 {
		return nil
	}
	total := 0
	for _, page := range s.Pages {
		total += len(page)
	}
	if total == 0 {
		return nil
	}
	pos = min(pos, total-1)
	for _, page := range s.Pages {
		if pos < len(page) {
			return &page[pos]
		}
		pos -= len(page)
	}
	return nil
}

// RemoteMediator fills the cache from the server on behalf of a pager.
type RemoteMediator interface {
	Initialize(ctx context.Context) (InitializeAction, error)
	Load(ctx context.Context, loadType LoadType, state State) LoadResult
}
