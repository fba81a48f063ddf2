package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ghostly/internal"
	"github.com/starford/ghostly/internal/mcpserver"
	pkgconfig "github.com/starford/ghostly/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// openApp wires the engine for a one-shot command. Logs go to stderr so
// command output stays clean.
func openApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	slog.SetDefault(logger)
	return internal.Open(cfg, logger)
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	return mcpserver.New(app.Repo, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "ghostly",
		Usage:   "Offline cache and editor for a Ghost blog",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the local HTTP API",
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "Load posts from Ghost into the cache",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "pages", Aliases: []string{"p"}, Value: 1, Usage: "Pages to load, 0 for all"},
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Refetch the first page even if the cache is fresh"},
				},
				Action: withApp(syncPosts),
			},
			{
				Name:  "list",
				Usage: "List cached posts",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "offset", Value: 0},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 15},
				},
				Action: withApp(listPosts),
			},
			{
				Name:      "show",
				Usage:     "Print a cached post as a post file",
				ArgsUsage: "<id>",
				Action:    withApp(showPost),
			},
			{
				Name:      "search",
				Usage:     "Search cached posts",
				ArgsUsage: "<query>",
				Action:    withApp(searchPosts),
			},
			{
				Name:      "refresh",
				Usage:     "Refetch one post from Ghost",
				ArgsUsage: "<id>",
				Action:    withApp(refreshPost),
			},
			{
				Name:      "publish",
				Usage:     "Publish a cached post",
				ArgsUsage: "<id>",
				Action:    withApp(publishPost),
			},
			{
				Name:      "unpublish",
				Usage:     "Move a cached post back to draft",
				ArgsUsage: "<id>",
				Action:    withApp(unpublishPost),
			},
			{
				Name:      "export",
				Usage:     "Write cached posts to the drafts directory",
				ArgsUsage: "[id...]",
				Action:    withApp(exportDrafts),
			},
			{
				Name:      "push",
				Usage:     "Save edited post files to Ghost",
				ArgsUsage: "[file...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Usage: "Save over edits made elsewhere since export"},
				},
				Action: withApp(pushDrafts),
			},
			{
				Name:   "invalidate",
				Usage:  "Drop the whole cache",
				Action: withApp(invalidate),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: withApp(serveMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
