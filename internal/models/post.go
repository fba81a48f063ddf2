// Package models defines the domain types for Ghostly.
package models

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// Status is the publication state of a post.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusScheduled Status = "scheduled"
)

// Post is a content item as cached locally. Optional string fields are empty
// when absent. Timestamps are the exact strings the server sent; UpdatedAt is
// the optimistic-concurrency token and must be echoed unchanged.
type Post struct {
	ID           string   `json:"id"`
	Slug         string   `json:"slug"`
	Title        string   `json:"title"`
	HTML         string   `json:"html"`
	FeatureImage string   `json:"feature_image,omitempty"`
	Status       Status   `json:"status"`
	Visibility   string   `json:"visibility,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	PublishedAt  string   `json:"published_at,omitempty"`
	URL          string   `json:"url,omitempty"`
	Excerpt      string   `json:"excerpt,omitempty"`
	Authors      []Author `json:"authors"`
	Tags         []Tag    `json:"tags"`
}

// Validate checks the fields the admin API requires on update.
func (p *Post) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Title, validation.Required),
		validation.Field(&p.Status, validation.Required,
			validation.In(StatusDraft, StatusPublished, StatusScheduled)),
	)
}

// PrimaryAuthorID returns the id of the first author, or "".
func (p *Post) PrimaryAuthorID() string {
	if len(p.Authors) == 0 {
		return ""
	}
	return p.Authors[0].ID
}

// Author is a post author.
type Author struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// Tag is a post tag. A tag created on the client carries a pending id until
// the server assigns a durable one.
type Tag struct {
	ID   TagID  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// NewPendingTag returns a client-side tag with a fresh pending id.
func NewPendingTag(name string) Tag {
	name = strings.TrimSpace(name)
	return Tag{
		ID:   PendingTagID(uuid.NewString()),
		Name: name,
		Slug: Slugify(name),
	}
}

// ResolveTags turns tag names into tags, reusing the entries of existing
// whose name matches case-insensitively. Unknown names become pending tags;
// blank and repeated names are dropped.
func ResolveTags(existing []Tag, names []string) []Tag {
	known := make(map[string]Tag, len(existing))
	for _, t := range existing {
		known[strings.ToLower(t.Name)] = t
	}
	out := make([]Tag, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if t, ok := known[key]; ok {
			out = append(out, t)
			continue
		}
		out = append(out, NewPendingTag(name))
	}
	return out
}

// Slugify lowercases s and replaces spaces with dashes.
func Slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// RemoteKey records which remote page produced a cached post.
type RemoteKey struct {
	PostID      string
	PrevKey     *int
	NextKey     *int
	CurrentPage int
	// CreatedAt is the fetch time in epoch milliseconds.
	CreatedAt int64
}
