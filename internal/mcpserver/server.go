// Package mcpserver exposes the post cache and its sync operations as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/draft"
	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/repository"
)

const formatURI = "ghostly://post-format"

// Repo is the part of the repository the tools use.
type Repo interface {
	ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	Search(ctx context.Context, query string, limit int) ([]models.Post, error)
	SaveAndRefresh(ctx context.Context, post models.Post) (models.Post, error)
	Publish(ctx context.Context, post models.Post) (models.Post, error)
	Unpublish(ctx context.Context, post models.Post) (models.Post, error)
	RefreshFromServer(ctx context.Context, id string) (models.Post, error)
	Sync(ctx context.Context, pages int, force bool) (repository.SyncResult, error)
}

// Server wraps the MCP server with the post tools.
type Server struct {
	mcp  *server.MCPServer
	repo Repo
}

// postSummary is a list entry.
type postSummary struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    models.Status `json:"status"`
	UpdatedAt string        `json:"updated_at"`
}

// New creates an MCP server with all tools registered.
func New(repo Repo, version string) *Server {
	s := &Server{repo: repo}

	s.mcp = server.NewMCPServer(
		"Ghostly",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List cached posts in server order."),
		mcp.WithNumber("offset", mcp.Description("Position of the first post, default 0")),
		mcp.WithNumber("limit", mcp.Description("Number of posts, default 15")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read a cached post as a post file (YAML frontmatter and HTML body). "+
			"See get_post_format for the layout."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("search_posts",
		mcp.WithDescription("Search cached posts by title, excerpt and body."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
	), s.searchPosts)

	s.mcp.AddTool(mcp.NewTool("update_post",
		mcp.WithDescription("Save an edited post file to Ghost. Start from the text read_post returned "+
			"and keep updated_at unchanged. Call get_post_format first."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The full post file")),
	), s.updatePost)

	s.mcp.AddTool(mcp.NewTool("publish_post",
		mcp.WithDescription("Publish a cached post."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id")),
	), s.publishPost)

	s.mcp.AddTool(mcp.NewTool("unpublish_post",
		mcp.WithDescription("Move a cached post back to draft."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id")),
	), s.unpublishPost)

	s.mcp.AddTool(mcp.NewTool("refresh_post",
		mcp.WithDescription("Refetch one post from Ghost into the cache."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id")),
	), s.refreshPost)

	s.mcp.AddTool(mcp.NewTool("sync_posts",
		mcp.WithDescription("Load pages of posts from Ghost into the cache."),
		mcp.WithNumber("pages", mcp.Description("Pages to load, 0 for all")),
		mcp.WithBoolean("force", mcp.Description("Refetch the first page even if the cache is fresh")),
	), s.syncPosts)

	s.mcp.AddTool(mcp.NewTool("get_post_format",
		mcp.WithDescription("Returns the post file format used by read_post and update_post."),
	), s.getPostFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Post Format",
			mcp.WithResourceDescription("Post file format used by read_post and update_post."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError turns a repository error into a message the model can act on.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		return mcp.NewToolResultError("Ghost rejected the admin API key; ask the user for a new one")
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("the post changed on the server since it was read; read it again and reapply the edit")
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("post not found; run sync_posts or refresh_post first")
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func summarize(posts []models.Post) []postSummary {
	out := make([]postSummary, 0, len(posts))
	for _, p := range posts {
		out = append(out, postSummary{ID: p.ID, Title: p.Title, Status: p.Status, UpdatedAt: p.UpdatedAt})
	}
	return out
}

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	offset := max(req.GetInt("offset", 0), 0)
	limit := req.GetInt("limit", 15)
	if limit <= 0 {
		limit = 15
	}
	posts, err := s.repo.ListPosts(ctx, offset, limit)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(summarize(posts)), nil
}

func (s *Server) readPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	data, err := draft.Export(*post)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	posts, err := s.repo.Search(ctx, query, 20)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(summarize(posts)), nil
}

func (s *Server) updatePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := draft.Parse([]byte(content))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%v; see get_post_format", err)), nil
	}
	base, err := s.repo.GetPost(ctx, d.ID)
	if err != nil {
		return toolError(err), nil
	}
	if !d.Changed() {
		return mcp.NewToolResultText("no changes"), nil
	}
	saved, err := s.repo.SaveAndRefresh(ctx, d.Apply(*base))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (updated_at %s)", saved.ID, saved.UpdatedAt)), nil
}

func (s *Server) publishPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.changeStatus(ctx, req, s.repo.Publish)
}

func (s *Server) unpublishPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.changeStatus(ctx, req, s.repo.Unpublish)
}

func (s *Server) changeStatus(ctx context.Context, req mcp.CallToolRequest, change func(context.Context, models.Post) (models.Post, error)) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	saved, err := change(ctx, *post)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s is now %s", saved.ID, saved.Status)), nil
}

func (s *Server) refreshPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.repo.RefreshFromServer(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(summarize([]models.Post{post})[0]), nil
}

func (s *Server) syncPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.repo.Sync(ctx, req.GetInt("pages", 1), req.GetBool("force", false))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getPostFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DraftFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     DraftFormatContract,
		},
	}, nil
}
