package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ghostly/internal/cache"
	"github.com/starford/ghostly/internal/draft"
	"github.com/starford/ghostly/internal/ghost"
	"github.com/starford/ghostly/internal/notify"
	"github.com/starford/ghostly/internal/repository"
)

// App is the wired engine shared by serve, the CLI commands and the MCP
// server.
type App struct {
	Config *Config
	Logger *slog.Logger
	Broker *notify.Broker
	Store  *cache.Store
	Client *ghost.Client
	Repo   *repository.Repository
}

// Open opens the cache and builds the repository over a Ghost client.
func Open(cfg *Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	broker := notify.NewBroker(2 * time.Second)
	store, err := cache.Open(cfg.SQLite.Path, broker, logger)
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	client := ghost.NewClient(cfg.Ghost.URL, ghost.StaticToken(cfg.Ghost.Token),
		ghost.WithTimeout(cfg.Ghost.Timeout),
		ghost.WithLogger(logger))

	repo := repository.New(store, client,
		repository.WithPageSize(cfg.Sync.PageSize),
		repository.WithStalenessWindow(cfg.Sync.StalenessWindow),
		repository.WithLogger(logger))

	return &App{
		Config: cfg,
		Logger: logger,
		Broker: broker,
		Store:  store,
		Client: client,
		Repo:   repo,
	}, nil
}

// Drafts opens the draft workspace.
func (a *App) Drafts() (*draft.Workspace, error) {
	return draft.NewWorkspace(a.Config.Drafts.Path)
}

// Close releases the cache and the broker.
func (a *App) Close() error {
	err := a.Store.Close()
	a.Broker.Close()
	return err
}
