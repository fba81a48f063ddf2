package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/starford/ghostly/internal"
	"github.com/starford/ghostly/internal/apperr"
	"github.com/starford/ghostly/internal/draft"
	"github.com/starford/ghostly/internal/models"
)

var errUsage = errors.New("missing argument")

func firstArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%w: %s", errUsage, name)
	}
	return v, nil
}

// explain adds a hint for errors the user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		return fmt.Errorf("%w (check ghost.token in the config)", err)
	case errors.Is(err, apperr.ErrConflict):
		return fmt.Errorf("%w (the post changed on the server; refresh and reapply)", err)
	case errors.Is(err, apperr.ErrNotFound):
		return fmt.Errorf("%w (run sync or refresh first)", err)
	}
	return err
}

func printPosts(w io.Writer, posts []models.Post) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tTITLE")
	for _, p := range posts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Status, p.UpdatedAt, p.Title)
	}
	return tw.Flush()
}

func syncPosts(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	res, err := app.Repo.Sync(ctx, int(cmd.Int("pages")), cmd.Bool("force"))
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(os.Stdout, "%d posts cached (refreshed: %t, complete: %t)\n", res.Posts, res.Refreshed, res.EndOfPagination)
	return nil
}

func listPosts(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	posts, err := app.Repo.ListPosts(ctx, int(cmd.Int("offset")), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return printPosts(os.Stdout, posts)
}

func showPost(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	id, err := firstArg(cmd, "id")
	if err != nil {
		return err
	}
	post, err := app.Repo.GetPost(ctx, id)
	if err != nil {
		return explain(err)
	}
	data, err := draft.Export(*post)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func searchPosts(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query", errUsage)
	}
	posts, err := app.Repo.Search(ctx, query, 20)
	if err != nil {
		return err
	}
	return printPosts(os.Stdout, posts)
}

func refreshPost(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	id, err := firstArg(cmd, "id")
	if err != nil {
		return err
	}
	post, err := app.Repo.RefreshFromServer(ctx, id)
	if err != nil {
		return explain(err)
	}
	return printPosts(os.Stdout, []models.Post{post})
}

func publishPost(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	return changeStatus(ctx, cmd, app, models.StatusPublished)
}

func unpublishPost(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	return changeStatus(ctx, cmd, app, models.StatusDraft)
}

func changeStatus(ctx context.Context, cmd *cli.Command, app *internal.App, status models.Status) error {
	id, err := firstArg(cmd, "id")
	if err != nil {
		return err
	}
	post, err := app.Repo.GetPost(ctx, id)
	if err != nil {
		return explain(err)
	}
	saved, err := app.Repo.ChangeStatus(ctx, *post, status)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(os.Stdout, "%s is now %s\n", saved.ID, saved.Status)
	return nil
}

func invalidate(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	if err := app.Repo.Invalidate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "cache cleared")
	return nil
}

func exportDrafts(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	ws, err := app.Drafts()
	if err != nil {
		return err
	}
	n, err := exportPosts(ctx, app, ws, cmd.Args().Slice())
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(os.Stdout, "exported %d posts to %s\n", n, ws.Root())
	return nil
}

func pushDrafts(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	ws, err := app.Drafts()
	if err != nil {
		return err
	}
	res, err := pushFiles(ctx, app, ws, cmd.Args().Slice(), cmd.Bool("overwrite"))
	for _, name := range res.Pushed {
		fmt.Fprintf(os.Stdout, "pushed %s\n", name)
	}
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(os.Stdout, "%d pushed, %d unchanged\n", len(res.Pushed), res.Unchanged)
	return nil
}

// exportPosts writes the given cached posts, or all of them, to ws.
func exportPosts(ctx context.Context, app *internal.App, ws *draft.Workspace, ids []string) (int, error) {
	var posts []models.Post
	if len(ids) == 0 {
		total, err := app.Repo.CountPosts(ctx)
		if err != nil {
			return 0, err
		}
		if posts, err = app.Repo.ListPosts(ctx, 0, total); err != nil {
			return 0, err
		}
	}
	for _, id := range ids {
		p, err := app.Repo.GetPost(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("post %s: %w", id, err)
		}
		posts = append(posts, *p)
	}

	for _, p := range posts {
		data, err := draft.Export(p)
		if err != nil {
			return 0, err
		}
		if err := ws.Write(draft.FileName(p.ID), data); err != nil {
			return 0, err
		}
	}
	return len(posts), nil
}

type pushResult struct {
	Pushed    []string
	Unchanged int
}

// pushFiles saves every changed draft in names, or in the whole workspace,
// and rewrites each pushed file from the server's copy. It stops at the first
// failure.
func pushFiles(ctx context.Context, app *internal.App, ws *draft.Workspace, names []string, overwrite bool) (pushResult, error) {
	var res pushResult
	if len(names) == 0 {
		var err error
		if names, err = ws.List(); err != nil {
			return res, err
		}
	}

	for _, name := range names {
		data, err := ws.Read(name)
		if err != nil {
			return res, err
		}
		d, err := draft.Parse(data)
		if err != nil {
			return res, fmt.Errorf("%s: %w", name, err)
		}
		if !d.Changed() {
			res.Unchanged++
			continue
		}
		base, err := app.Repo.GetPost(ctx, d.ID)
		if err != nil {
			return res, fmt.Errorf("%s: %w", name, err)
		}

		edited := d.Apply(*base)
		var saved models.Post
		if overwrite {
			saved, err = app.Repo.SaveLatest(ctx, edited)
		} else {
			saved, err = app.Repo.SaveAndRefresh(ctx, edited)
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", name, err)
		}

		out, err := draft.Export(saved)
		if err != nil {
			return res, err
		}
		if err := ws.Write(name, out); err != nil {
			return res, err
		}
		res.Pushed = append(res.Pushed, name)
	}
	return res, nil
}
