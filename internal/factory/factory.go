package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/dependencies/clock"
	"github.com/mcoot/outlier/internal/dependencies/random"
	"github.com/mcoot/outlier/internal/services/category"
	"github.com/mcoot/outlier/internal/services/category/openai"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/storage"
	"github.com/mcoot/outlier/internal/storage/memory"
	redisstorage "github.com/mcoot/outlier/internal/storage/redis"
	"github.com/mcoot/outlier/internal/storage/sqlite"
	"github.com/mcoot/outlier/internal/web/stream"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
	StorageTypeSQLite = "sqlite"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Store

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Categories        *category.Provider
	SessionController *session.Controller
	HubManager        *stream.HubManager
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "sqlite")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// SQLitePath is the database file (required if StorageType is "sqlite")
	SQLitePath string
	// OpenAIConfig enables category generation when it carries an API key
	OpenAIConfig *openai.Config
	// CategoriesFile replaces the built-in categories with a JSON file (optional)
	CategoriesFile string
	// SessionConfig tunes the state machine; zero value uses defaults
	SessionConfig session.Config
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Left as a nil interface unless configured
	var generator category.Generator
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey != "" {
		gen, err := openai.New(*cfg.OpenAIConfig)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		generator = gen
	}

	app := newWithDependencies(store, clock.New(), random.New(), generator, cfg.SessionConfig, logger)

	if cfg.CategoriesFile != "" {
		if err := app.Categories.LoadFromFile(cfg.CategoriesFile); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("load categories: %w", err)
		}
	}

	logger.Info("application wired",
		slog.String("storage", storageType(cfg)),
		slog.Bool("category_generator", generator != nil),
		slog.Int("categories", len(app.Categories.Names())))

	return app, nil
}

func storageType(cfg Config) string {
	if cfg.StorageType == "" {
		return StorageTypeMemory
	}
	return cfg.StorageType
}

func newStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch storageType(cfg) {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		store, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageTypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLitePath required when StorageType is sqlite")
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'sqlite'")
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Store,
	clk clock.Clock,
	rnd random.Random,
	generator category.Generator,
	sessionCfg session.Config,
	logger *slog.Logger,
) *App {
	categories := category.New(rnd, generator, logger)
	controller := session.NewController(store, categories, clk, rnd, logger, sessionCfg)
	hubManager := stream.NewHubManager(controller, response.RenderSession, logger)

	return &App{
		Storage:           store,
		Clock:             clk,
		Random:            rnd,
		Categories:        categories,
		SessionController: controller,
		HubManager:        hubManager,
	}
}

// Close stops every stream hub and releases the storage backend
func (a *App) Close() error {
	a.HubManager.Close()
	return a.Storage.Close()
}
