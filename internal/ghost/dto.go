package ghost

import (
	"github.com/google/uuid"

	"github.com/starford/ghostly/internal/models"
)

// PostsPage is the envelope every posts endpoint answers with.
type PostsPage struct {
	Posts []PostDTO `json:"posts"`
	Meta  *Meta     `json:"meta,omitempty"`
}

// First returns the first post in the envelope, or nil.
func (p *PostsPage) First() *PostDTO {
	if p == nil || len(p.Posts) == 0 {
		return nil
	}
	return &p.Posts[0]
}

// Meta carries list metadata.
type Meta struct {
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes the page a list response came from.
type Pagination struct {
	Page  int  `json:"page"`
	Limit int  `json:"limit"`
	Pages int  `json:"pages"`
	Total int  `json:"total"`
	Next  *int `json:"next"`
	Prev  *int `json:"prev"`
}

// PostDTO is a post as the admin API returns it. Pointer and nil-slice fields
// distinguish "omitted" from "empty".
type PostDTO struct {
	ID           string      `json:"id"`
	Slug         string      `json:"slug,omitempty"`
	Title        string      `json:"title"`
	HTML         *string     `json:"html"`
	Excerpt      string      `json:"excerpt,omitempty"`
	FeatureImage string      `json:"feature_image,omitempty"`
	Status       string      `json:"status"`
	Visibility   string      `json:"visibility,omitempty"`
	CreatedAt    string      `json:"created_at,omitempty"`
	UpdatedAt    string      `json:"updated_at,omitempty"`
	PublishedAt  string      `json:"published_at,omitempty"`
	URL          string      `json:"url,omitempty"`
	Authors      []AuthorDTO `json:"authors"`
	Tags         []TagDTO    `json:"tags"`
}

// AuthorDTO is an author as the admin API returns it.
type AuthorDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// TagDTO is a tag in requests and responses. A tag without id asks the server
// to create it.
type TagDTO struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// UpdateRequest is the body of a post update.
type UpdateRequest struct {
	Posts []UpdatePostBody `json:"posts"`
}

// UpdatePostBody is the editable subset of a post. UpdatedAt must be the last
// value the client saw; the server uses it to detect concurrent edits.
type UpdatePostBody struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	HTML         string   `json:"html"`
	Excerpt      string   `json:"excerpt,omitempty"`
	Tags         []TagDTO `json:"tags"`
	Status       string   `json:"status,omitempty"`
	AuthorID     string   `json:"author_id,omitempty"`
	FeatureImage string   `json:"feature_image,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
	Visibility   string   `json:"visibility,omitempty"`
	PublishedAt  string   `json:"published_at,omitempty"`
	URL          string   `json:"url,omitempty"`
	Slug         string   `json:"slug,omitempty"`
}

// NewUpdateRequest builds the update payload for p.
func NewUpdateRequest(p models.Post) UpdateRequest {
	tags := make([]TagDTO, 0, len(p.Tags))
	for _, t := range p.Tags {
		dto := TagDTO{Name: t.Name, Slug: t.Slug}
		if id, ok := t.ID.Persisted(); ok {
			dto.ID = id
		}
		tags = append(tags, dto)
	}
	return UpdateRequest{Posts: []UpdatePostBody{{
		ID:           p.ID,
		Title:        p.Title,
		HTML:         p.HTML,
		Excerpt:      p.Excerpt,
		Tags:         tags,
		Status:       string(p.Status),
		AuthorID:     p.PrimaryAuthorID(),
		FeatureImage: p.FeatureImage,
		UpdatedAt:    p.UpdatedAt,
		Visibility:   p.Visibility,
		PublishedAt:  p.PublishedAt,
		URL:          p.URL,
		Slug:         p.Slug,
	}}}
}

// ToPost converts a response post into a models.Post, merging with the local
// copy when there is one. Slug and CreatedAt are client-held and always come
// from local; HTML, authors and tags fall back to local when the response
// omits them; everything else is taken from the response.
func (d PostDTO) ToPost(local *models.Post) models.Post {
	p := models.Post{
		ID:           d.ID,
		Slug:         d.Slug,
		Title:        d.Title,
		Excerpt:      d.Excerpt,
		FeatureImage: d.FeatureImage,
		Status:       models.Status(d.Status),
		Visibility:   d.Visibility,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		PublishedAt:  d.PublishedAt,
		URL:          d.URL,
	}
	if local != nil {
		p.Slug = local.Slug
		p.CreatedAt = local.CreatedAt
	}

	switch {
	case d.HTML != nil:
		p.HTML = *d.HTML
	case local != nil:
		p.HTML = local.HTML
	}

	switch {
	case d.Authors != nil:
		p.Authors = make([]models.Author, 0, len(d.Authors))
		for _, a := range d.Authors {
			p.Authors = append(p.Authors, models.Author{
				ID:           a.ID,
				Name:         a.Name,
				Slug:         a.Slug,
				ProfileImage: a.ProfileImage,
			})
		}
	case local != nil:
		p.Authors = local.Authors
	default:
		p.Authors = []models.Author{}
	}

	switch {
	case d.Tags != nil:
		p.Tags = make([]models.Tag, 0, len(d.Tags))
		for _, t := range d.Tags {
			p.Tags = append(p.Tags, t.toTag())
		}
	case local != nil:
		p.Tags = local.Tags
	default:
		p.Tags = []models.Tag{}
	}
	return p
}

func (t TagDTO) toTag() models.Tag {
	tag := models.Tag{Name: t.Name, Slug: t.Slug}
	if tag.Slug == "" {
		tag.Slug = models.Slugify(t.Name)
	}
	if t.ID != "" {
		tag.ID = models.PersistedTagID(t.ID)
	} else {
		tag.ID = models.PendingTagID(uuid.NewString())
	}
	return tag
}
