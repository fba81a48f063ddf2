package api

import (
	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/repository"
)

// UpdatePostRequest is the body of PUT /posts/{id}. Absent fields keep the
// cached value. UpdatedAt is the token the edit is based on; the If-Match
// header overrides it.
type UpdatePostRequest struct {
	Title        *string   `json:"title,omitempty" example:"Hello"`
	HTML         *string   `json:"html,omitempty" example:"<p>Body</p>"`
	Excerpt      *string   `json:"excerpt,omitempty"`
	FeatureImage *string   `json:"feature_image,omitempty"`
	Status       *string   `json:"status,omitempty" example:"draft"`
	Tags         *[]string `json:"tags,omitempty"`
	UpdatedAt    string    `json:"updated_at,omitempty" example:"2024-06-01T00:00:01.000Z"`
}

// apply returns base with the request's fields applied.
func (req UpdatePostRequest) apply(base models.Post) models.Post {
	p := base
	if req.Title != nil {
		p.Title = *req.Title
	}
	if req.HTML != nil {
		p.HTML = *req.HTML
	}
	if req.Excerpt != nil {
		p.Excerpt = *req.Excerpt
	}
	if req.FeatureImage != nil {
		p.FeatureImage = *req.FeatureImage
	}
	if req.Status != nil {
		p.Status = models.Status(*req.Status)
	}
	if req.Tags != nil {
		p.Tags = models.ResolveTags(base.Tags, *req.Tags)
	}
	if req.UpdatedAt != "" {
		p.UpdatedAt = req.UpdatedAt
	}
	return p
}

// PostListResponse wraps a window of the cached list.
type PostListResponse struct {
	Posts  []models.Post `json:"posts" validate:"required"`
	Total  int           `json:"total" example:"42" validate:"required"`
	Offset int           `json:"offset" example:"0"`
	Limit  int           `json:"limit" example:"15"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.Post `json:"results" validate:"required"`
}

// SyncResponse is the result of POST /sync.
type SyncResponse = repository.SyncResult
