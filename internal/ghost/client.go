// Package ghost is a client for the Ghost Admin API posts endpoints.
package ghost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ghostly/internal/apperr"
)

// Remote is the contract the sync engine consumes. Every method returns either
// a payload or an error; *apperr.RemoteError carries the status code.
type Remote interface {
	FetchPage(ctx context.Context, page, limit int) (*PostsPage, error)
	FetchPost(ctx context.Context, id string) (*PostsPage, error)
	UpdatePost(ctx context.Context, id string, req UpdateRequest) (*PostsPage, error)
}

// TokenSource yields the admin token attached to each request. How the token
// is issued is not this package's concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("ghost: empty token")
	}
	return string(t), nil
}

const postsPath = "/api/admin/posts/"

// Client talks to one Ghost site.
type Client struct {
	base   string
	tokens TokenSource
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a client for the site whose admin root is baseURL
// (for example https://example.com/ghost).
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		tokens: tokens,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Remote = (*Client)(nil)

// FetchPage returns one page of posts.
func (c *Client) FetchPage(ctx context.Context, page, limit int) (*PostsPage, error) {
	q := url.Values{}
	q.Set("formats", "html")
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var out PostsPage
	if err := c.do(ctx, http.MethodGet, postsPath, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPost returns a single post wrapped in a page envelope.
func (c *Client) FetchPost(ctx context.Context, id string) (*PostsPage, error) {
	q := url.Values{}
	q.Set("formats", "html")
	var out PostsPage
	if err := c.do(ctx, http.MethodGet, postsPath+url.PathEscape(id)+"/", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePost sends an edit. The server rejects it with 409 when the body's
// updated_at is not the post's current one.
func (c *Client) UpdatePost(ctx context.Context, id string, req UpdateRequest) (*PostsPage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ghost: encode update: %w", err)
	}
	q := url.Values{}
	q.Set("formats", "html")
	var out PostsPage
	if err := c.do(ctx, http.MethodPut, postsPath+url.PathEscape(id)+"/", q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &apperr.RemoteError{Code: apperr.CodeTransport, Message: "Unable to generate token", Err: err}
	}

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return apperr.Transport(err)
	}
	req.Header.Set("Authorization", "Ghost "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("ghost: request", slog.String("method", method), slog.String("path", path))

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.Remote(http.StatusUnauthorized, "Invalid API Key")
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		c.logger.Warn("ghost: request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return apperr.Remote(resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.MissingData(method + " " + path)
		}
		return apperr.Transport(fmt.Errorf("ghost: decode %s %s: %w", method, path, err))
	}
	return nil
}
