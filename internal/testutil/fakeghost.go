package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// FakeAuthor and FakeTag are the wire shapes the fake server stores.
type FakeAuthor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type FakeTag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// FakePost is a post held by the fake server.
type FakePost struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug,omitempty"`
	Title        string       `json:"title"`
	HTML         string       `json:"html"`
	Excerpt      string       `json:"excerpt,omitempty"`
	FeatureImage string       `json:"feature_image,omitempty"`
	Status       string       `json:"status"`
	Visibility   string       `json:"visibility,omitempty"`
	CreatedAt    string       `json:"created_at,omitempty"`
	UpdatedAt    string       `json:"updated_at"`
	PublishedAt  string       `json:"published_at,omitempty"`
	URL          string       `json:"url,omitempty"`
	Authors      []FakeAuthor `json:"authors"`
	Tags         []FakeTag    `json:"tags"`
}

// FakeUpdate is a post update body as the fake server received it.
type FakeUpdate struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	HTML         string    `json:"html"`
	Excerpt      string    `json:"excerpt"`
	Tags         []FakeTag `json:"tags"`
	Status       string    `json:"status"`
	AuthorID     string    `json:"author_id"`
	FeatureImage string    `json:"feature_image"`
	UpdatedAt    string    `json:"updated_at"`
}

// FakeGhost is an in-memory admin API serving the posts endpoints.
type FakeGhost struct {
	Server *httptest.Server
	Token  string

	mu    sync.Mutex
	posts []FakePost
	// checkCollisions makes updates whose updated_at is older than the
	// stored one fail with 409.
	checkCollisions bool
	// tagIDs assigns fixed ids to created tags by name.
	tagIDs    map[string]string
	nextTag   int
	clock     int
	failCode  int
	failCount int

	pageRequests   []int
	postRequests   []string
	updateRequests []FakeUpdate
}

// NewFakeGhost starts a fake server holding posts, in list order.
func NewFakeGhost(t *testing.T, posts ...FakePost) *FakeGhost {
	t.Helper()
	f := &FakeGhost{
		Token:           "test-token",
		posts:           posts,
		checkCollisions: true,
		tagIDs:          map[string]string{},
	}

	r := chi.NewRouter()
	r.Use(f.auth)
	r.Get("/api/admin/posts/", f.list)
	r.Get("/api/admin/posts/{id}/", f.get)
	r.Put("/api/admin/posts/{id}/", f.update)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the admin root of the fake site.
func (f *FakeGhost) URL() string { return f.Server.URL }

// SetCheckCollisions toggles updated_at collision checks.
func (f *FakeGhost) SetCheckCollisions(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCollisions = on
}

// AssignTagID makes the server give a created tag named name the id id.
func (f *FakeGhost) AssignTagID(name, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagIDs[name] = id
}

// FailNext makes the next n requests answer with status code.
func (f *FakeGhost) FailNext(code, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCode, f.failCount = code, n
}

// SetPosts replaces the server's posts.
func (f *FakeGhost) SetPosts(posts ...FakePost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = posts
}

// Post returns a copy of a stored post.
func (f *FakeGhost) Post(id string) (FakePost, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == id {
			return p, true
		}
	}
	return FakePost{}, false
}

// PageCalls returns the pages requested so far.
func (f *FakeGhost) PageCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pageRequests...)
}

// PostCalls returns the ids of single-post fetches so far.
func (f *FakeGhost) PostCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.postRequests...)
}

// Updates returns the update bodies received so far.
func (f *FakeGhost) Updates() []FakeUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeUpdate(nil), f.updateRequests...)
}

// FakePostFixture returns a server-side post.
func FakePostFixture(id string) FakePost {
	return FakePost{
		ID:        id,
		Slug:      "slug-" + id,
		Title:     "Title " + id,
		HTML:      "<p>body " + id + "</p>",
		Status:    "draft",
		CreatedAt: "2024-01-01T00:00:00.000Z",
		UpdatedAt: "2024-01-02T00:00:00.000Z",
		Authors:   []FakeAuthor{{ID: "a-1", Name: "Ada", Slug: "ada"}},
		Tags:      []FakeTag{{ID: "t-1", Name: "News", Slug: "news"}},
	}
}

// FakePosts returns n server-side posts with ids p1..pn.
func FakePosts(n int) []FakePost {
	out := make([]FakePost, n)
	for i := range out {
		out[i] = FakePostFixture(fmt.Sprintf("p%d", i+1))
	}
	return out
}

func (f *FakeGhost) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Ghost "+f.Token {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]any{
				"errors": []map[string]string{{"message": "Authorization failed"}},
			})
			return
		}
		f.mu.Lock()
		if f.failCount > 0 {
			f.failCount--
			code := f.failCode
			f.mu.Unlock()
			writeFakeJSON(w, code, map[string]any{
				"errors": []map[string]string{{"message": "injected failure"}},
			})
			return
		}
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGhost) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 15
	}

	f.mu.Lock()
	f.pageRequests = append(f.pageRequests, page)
	total := len(f.posts)
	start := (page - 1) * limit
	var out []FakePost
	if start < total {
		end := min(start+limit, total)
		out = append(out, f.posts[start:end]...)
	}
	f.mu.Unlock()

	if out == nil {
		out = []FakePost{}
	}
	pages := (total + limit - 1) / limit
	pagination := map[string]any{"page": page, "limit": limit, "pages": pages, "total": total, "next": nil, "prev": nil}
	if page < pages {
		pagination["next"] = page + 1
	}
	if page > 1 {
		pagination["prev"] = page - 1
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"posts": out,
		"meta":  map[string]any{"pagination": pagination},
	})
}

func (f *FakeGhost) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f.mu.Lock()
	f.postRequests = append(f.postRequests, id)
	f.mu.Unlock()

	p, ok := f.Post(id)
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{
			"errors": []map[string]string{{"message": "Post not found."}},
		})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"posts": []FakePost{p}})
}

// update applies an edit. The response omits slug and created_at.
func (f *FakeGhost) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Posts []FakeUpdate `json:"posts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Posts) != 1 {
		writeFakeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"errors": []map[string]string{{"message": "invalid body"}},
		})
		return
	}
	body := req.Posts[0]

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateRequests = append(f.updateRequests, body)

	idx := -1
	for i := range f.posts {
		if f.posts[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{
			"errors": []map[string]string{{"message": "Post not found."}},
		})
		return
	}
	p := f.posts[idx]
	if f.checkCollisions && body.UpdatedAt < p.UpdatedAt {
		writeFakeJSON(w, http.StatusConflict, map[string]any{
			"errors": []map[string]string{{"message": "Saving failed! Someone else is editing this post."}},
		})
		return
	}

	p.Title = body.Title
	p.HTML = body.HTML
	p.Excerpt = body.Excerpt
	p.FeatureImage = body.FeatureImage
	if body.Status != "" {
		p.Status = body.Status
	}
	tags := make([]FakeTag, 0, len(body.Tags))
	for _, t := range body.Tags {
		if t.ID == "" {
			f.nextTag++
			t.ID = f.tagIDs[t.Name]
			if t.ID == "" {
				t.ID = fmt.Sprintf("t-new-%d", f.nextTag)
			}
		}
		if t.Slug == "" {
			t.Slug = strings.ToLower(strings.ReplaceAll(t.Name, " ", "-"))
		}
		tags = append(tags, t)
	}
	p.Tags = tags
	f.clock++
	p.UpdatedAt = time.Date(2024, 6, 1, 0, 0, f.clock, 0, time.UTC).Format("2006-01-02T15:04:05.000Z")
	f.posts[idx] = p

	resp := p
	resp.Slug = ""
	resp.CreatedAt = ""
	writeFakeJSON(w, http.StatusOK, map[string]any{"posts": []FakePost{resp}})
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
