package ghost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ghostly/internal/models"
)

func localPost() models.Post {
	return models.Post{
		ID:        "p1",
		Slug:      "local-slug",
		Title:     "Local",
		HTML:      "<p>local</p>",
		Status:    models.StatusDraft,
		CreatedAt: "2024-01-01T00:00:00.000Z",
		UpdatedAt: "2024-01-02T00:00:00.000Z",
		Authors:   []models.Author{{ID: "a-1", Name: "Ada"}},
		Tags:      []models.Tag{{ID: models.PersistedTagID("t-1"), Name: "News", Slug: "news"}},
	}
}

func TestToPostKeepsClientHeldFields(t *testing.T) {
	local := localPost()
	html := "<p>remote</p>"
	dto := PostDTO{
		ID:        "p1",
		Slug:      "server-slug",
		Title:     "Remote",
		HTML:      &html,
		Status:    "published",
		CreatedAt: "2030-01-01T00:00:00.000Z",
		UpdatedAt: "2024-06-01T00:00:01.000Z",
		Authors:   []AuthorDTO{{ID: "a-2", Name: "Bob"}},
		Tags:      []TagDTO{{ID: "t-2", Name: "Go"}},
	}

	got := dto.ToPost(&local)
	assert.Equal(t, "local-slug", got.Slug)
	assert.Equal(t, local.CreatedAt, got.CreatedAt)
	assert.Equal(t, "Remote", got.Title)
	assert.Equal(t, "<p>remote</p>", got.HTML)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Equal(t, "2024-06-01T00:00:01.000Z", got.UpdatedAt)
	require.Len(t, got.Authors, 1)
	assert.Equal(t, "a-2", got.Authors[0].ID)
	require.Len(t, got.Tags, 1)
	id, ok := got.Tags[0].ID.Persisted()
	require.True(t, ok)
	assert.Equal(t, "t-2", id)
	assert.Equal(t, "go", got.Tags[0].Slug)
}

func TestToPostFallsBackWhenOmitted(t *testing.T) {
	local := localPost()
	dto := PostDTO{ID: "p1", Title: "Remote", Status: "draft", UpdatedAt: "x"}

	got := dto.ToPost(&local)
	assert.Equal(t, local.HTML, got.HTML)
	assert.Equal(t, local.Authors, got.Authors)
	assert.Equal(t, local.Tags, got.Tags)
}

func TestToPostWithoutLocal(t *testing.T) {
	dto := PostDTO{ID: "p1", Slug: "s", CreatedAt: "c", Title: "T", Status: "draft"}

	got := dto.ToPost(nil)
	assert.Equal(t, "s", got.Slug)
	assert.Equal(t, "c", got.CreatedAt)
	assert.Empty(t, got.HTML)
	assert.NotNil(t, got.Authors)
	assert.NotNil(t, got.Tags)
}

func TestToPostTagWithoutIDIsPending(t *testing.T) {
	dto := PostDTO{ID: "p1", Tags: []TagDTO{{Name: "Later"}}}

	got := dto.ToPost(nil)
	require.Len(t, got.Tags, 1)
	assert.True(t, got.Tags[0].ID.IsPending())
	assert.NotEmpty(t, got.Tags[0].ID.Token())
}

func TestNewUpdateRequest(t *testing.T) {
	p := localPost()
	p.Tags = append(p.Tags, models.NewPendingTag(" Brand New "))

	req := NewUpdateRequest(p)
	require.Len(t, req.Posts, 1)
	body := req.Posts[0]
	assert.Equal(t, "p1", body.ID)
	assert.Equal(t, p.UpdatedAt, body.UpdatedAt)
	assert.Equal(t, "a-1", body.AuthorID)
	assert.Equal(t, "draft", body.Status)
	require.Len(t, body.Tags, 2)
	assert.Equal(t, TagDTO{ID: "t-1", Name: "News", Slug: "news"}, body.Tags[0])
	assert.Equal(t, TagDTO{Name: "Brand New", Slug: "brand-new"}, body.Tags[1])
}
