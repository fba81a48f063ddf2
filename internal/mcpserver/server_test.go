package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/ghostly/internal/cache"
	"github.com/starford/ghostly/internal/ghost"
	"github.com/starford/ghostly/internal/relation"
	"github.com/starford/ghostly/internal/repository"
	"github.com/starford/ghostly/internal/testutil"
)

func testServer(t *testing.T, posts ...testutil.FakePost) (*Server, *testutil.FakeGhost, *cache.Store) {
	t.Helper()
	fake := testutil.NewFakeGhost(t, posts...)
	store := testutil.TestStore(t)
	client := ghost.NewClient(fake.URL(), ghost.StaticToken(fake.Token), ghost.WithLogger(testutil.Logger()))
	repo := repository.New(store, client,
		repository.WithPageSize(2),
		repository.WithLogger(testutil.Logger()))
	return New(repo, "test"), fake, store
}

func seed(t *testing.T, store *cache.Store, ids ...string) {
	t.Helper()
	rb := relation.NewRebuilder(store)
	for _, id := range ids {
		if err := rb.Upsert(context.Background(), testutil.Post(id)); err != nil {
			t.Fatal(err)
		}
	}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_posts":
		result, err = srv.listPosts(ctx, req)
	case "read_post":
		result, err = srv.readPost(ctx, req)
	case "search_posts":
		result, err = srv.searchPosts(ctx, req)
	case "update_post":
		result, err = srv.updatePost(ctx, req)
	case "publish_post":
		result, err = srv.publishPost(ctx, req)
	case "unpublish_post":
		result, err = srv.unpublishPost(ctx, req)
	case "refresh_post":
		result, err = srv.refreshPost(ctx, req)
	case "sync_posts":
		result, err = srv.syncPosts(ctx, req)
	case "get_post_format":
		result, err = srv.getPostFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSyncThenList(t *testing.T) {
	srv, _, _ := testServer(t, testutil.FakePosts(3)...)

	r := callTool(t, srv, "sync_posts", map[string]any{"pages": 0})
	if r.IsError {
		t.Fatalf("sync: %s", resultText(r))
	}
	var res repository.SyncResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Posts != 3 || !res.EndOfPagination {
		t.Errorf("sync = %+v", res)
	}

	r = callTool(t, srv, "list_posts", map[string]any{"offset": 1, "limit": 5})
	var list []postSummary
	if err := json.Unmarshal([]byte(resultText(r)), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "p2" {
		t.Errorf("list = %+v", list)
	}
}

func TestReadThenUpdate(t *testing.T) {
	srv, fake, store := testServer(t, testutil.FakePostFixture("p1"))
	seed(t, store, "p1")

	r := callTool(t, srv, "read_post", map[string]any{"id": "p1"})
	if r.IsError {
		t.Fatalf("read: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "id: p1") || !strings.Contains(text, "<p>body p1</p>") {
		t.Fatalf("read = %q", text)
	}

	r = callTool(t, srv, "update_post", map[string]any{"content": text})
	if got := resultText(r); got != "no changes" {
		t.Errorf("unchanged update = %q", got)
	}

	edited := strings.Replace(text, "<p>body p1</p>", "<p>rewritten</p>", 1)
	r = callTool(t, srv, "update_post", map[string]any{"content": edited})
	if r.IsError {
		t.Fatalf("update: %s", resultText(r))
	}
	server, _ := fake.Post("p1")
	if server.HTML != "<p>rewritten</p>" {
		t.Errorf("server html = %q", server.HTML)
	}
	cached, _ := store.GetPost(context.Background(), "p1")
	if cached.HTML != "<p>rewritten</p>" || cached.UpdatedAt != server.UpdatedAt {
		t.Errorf("cached = %+v", cached)
	}

	// The same text again is now based on an old updated_at.
	again := strings.Replace(text, "<p>body p1</p>", "<p>second</p>", 1)
	r = callTool(t, srv, "update_post", map[string]any{"content": again})
	if !r.IsError || !strings.Contains(resultText(r), "changed on the server") {
		t.Errorf("stale update = %q", resultText(r))
	}
}

func TestUpdatePostRejectsBadContent(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "update_post", map[string]any{"content": "<p>no frontmatter</p>"})
	if !r.IsError {
		t.Error("expected error for content without frontmatter")
	}
}

func TestPublishPost(t *testing.T) {
	srv, fake, store := testServer(t, testutil.FakePostFixture("p1"))
	seed(t, store, "p1")

	r := callTool(t, srv, "publish_post", map[string]any{"id": "p1"})
	if got := resultText(r); got != "p1 is now published" {
		t.Errorf("publish = %q", got)
	}
	r = callTool(t, srv, "unpublish_post", map[string]any{"id": "p1"})
	if got := resultText(r); got != "p1 is now draft" {
		t.Errorf("unpublish = %q", got)
	}
	if n := len(fake.Updates()); n != 2 {
		t.Errorf("updates = %d", n)
	}
}

func TestUnauthorizedMessage(t *testing.T) {
	srv, fake, store := testServer(t, testutil.FakePostFixture("p1"))
	seed(t, store, "p1")
	fake.FailNext(http.StatusUnauthorized, 1)

	r := callTool(t, srv, "refresh_post", map[string]any{"id": "p1"})
	if !r.IsError || !strings.Contains(resultText(r), "admin API key") {
		t.Errorf("refresh = %q", resultText(r))
	}
}

func TestReadPostMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "read_post", map[string]any{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing post")
	}
	r = callTool(t, srv, "read_post", map[string]any{})
	if !r.IsError {
		t.Error("expected error without id")
	}
}

func TestSearchPosts(t *testing.T) {
	srv, _, store := testServer(t)
	seed(t, store, "p1", "p2")

	r := callTool(t, srv, "search_posts", map[string]any{"query": "Title p1"})
	var hits []postSummary
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "p1" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestGetPostFormat(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_post_format", nil)
	if !strings.Contains(resultText(r), "updated_at") {
		t.Error("format contract missing updated_at rule")
	}
}
