package draft

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/ghostly/internal/models"
)

func samplePost() models.Post {
	return models.Post{
		ID:        "p1",
		Slug:      "hello",
		Title:     "Hello: a post",
		HTML:      "<p>Body</p>\n<p>More</p>",
		Status:    models.StatusDraft,
		Excerpt:   "short",
		UpdatedAt: "2024-01-02T00:00:00.000Z",
		Authors:   []models.Author{{ID: "a-1", Name: "Ada"}},
		Tags: []models.Tag{
			{ID: models.PersistedTagID("t-1"), Name: "News", Slug: "news"},
			{ID: models.PersistedTagID("t-2"), Name: "Go", Slug: "go"},
		},
	}
}

func TestExportParseRoundTrip(t *testing.T) {
	data, err := Export(samplePost())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") {
		t.Fatalf("missing frontmatter: %q", data)
	}

	d, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.ID != "p1" || d.Title != "Hello: a post" || d.Slug != "hello" {
		t.Errorf("frontmatter = %+v", d.Frontmatter)
	}
	if d.Body != "<p>Body</p>\n<p>More</p>" {
		t.Errorf("body = %q", d.Body)
	}
	if len(d.Tags) != 2 || d.Tags[0] != "News" || d.Tags[1] != "Go" {
		t.Errorf("tags = %v", d.Tags)
	}
	if d.Changed() {
		t.Error("fresh export reported as changed")
	}
}

func TestChangedAfterEdit(t *testing.T) {
	data, _ := Export(samplePost())
	edited := strings.Replace(string(data), "<p>Body</p>", "<p>Edited</p>", 1)

	d, err := Parse([]byte(edited))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !d.Changed() {
		t.Error("edit not detected")
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("<p>no frontmatter</p>")); !errors.Is(err, ErrNoFrontmatter) {
		t.Errorf("err = %v, want ErrNoFrontmatter", err)
	}
	if _, err := Parse([]byte("---\ntitle: x\n")); !errors.Is(err, ErrNoFrontmatter) {
		t.Errorf("unterminated: err = %v", err)
	}
	if _, err := Parse([]byte("---\ntitle: x\n---\nbody")); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := Parse([]byte("---\n: bad: {{{\n---\nbody")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestApply(t *testing.T) {
	base := samplePost()
	d := &Draft{
		Frontmatter: Frontmatter{
			ID:        "p1",
			Title:     "New",
			Status:    "published",
			Tags:      []string{"go", " Fresh ", "fresh", ""},
			UpdatedAt: "2024-01-01T00:00:00.000Z",
		},
		Body: "<p>x</p>",
	}

	p := d.Apply(base)
	if p.Title != "New" || p.HTML != "<p>x</p>" || p.Status != models.StatusPublished {
		t.Errorf("fields not applied: %+v", p)
	}
	if p.Slug != "hello" || len(p.Authors) != 1 {
		t.Errorf("base fields lost: %+v", p)
	}
	if p.UpdatedAt != "2024-01-01T00:00:00.000Z" {
		t.Errorf("updated_at = %q", p.UpdatedAt)
	}
	if len(p.Tags) != 2 {
		t.Fatalf("tags = %+v", p.Tags)
	}
	if id, ok := p.Tags[0].ID.Persisted(); !ok || id != "t-2" {
		t.Errorf("known tag lost its id: %v", p.Tags[0].ID)
	}
	if !p.Tags[1].ID.IsPending() || p.Tags[1].Name != "Fresh" || p.Tags[1].Slug != "fresh" {
		t.Errorf("new tag = %+v", p.Tags[1])
	}
}

func TestWorkspaceWriteReadList(t *testing.T) {
	w, err := NewWorkspace(filepath.Join(t.TempDir(), "drafts"))
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := w.Write(FileName("b"), []byte("two")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(FileName("a"), []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write("notes.txt", []byte("ignored")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := w.Read(FileName("a"))
	if err != nil || string(got) != "one" {
		t.Errorf("Read = %q, %v", got, err)
	}
	names, err := w.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "a.post.md" || names[1] != "b.post.md" {
		t.Errorf("List = %v", names)
	}

	entries, _ := os.ReadDir(w.Root())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".ghostly-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	if err := w.Remove(FileName("a")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := w.Read(FileName("a")); err == nil {
		t.Error("expected error reading removed draft")
	}
}

func TestWorkspaceRejectsTraversal(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	for _, p := range []string{"../escape.post.md", "/etc/passwd", "", "a/../../x"} {
		if err := w.Write(p, []byte("x")); err == nil {
			t.Errorf("Write(%q) succeeded", p)
		}
	}
}
