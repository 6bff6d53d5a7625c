// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/chat"
	"github.com/tildaslashalef/murmur/internal/config"
	"github.com/tildaslashalef/murmur/internal/database"
	"github.com/tildaslashalef/murmur/internal/llm"
	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/memory"
	"github.com/tildaslashalef/murmur/internal/persona"
	"github.com/tildaslashalef/murmur/internal/sync"
	"github.com/tildaslashalef/murmur/internal/vault"
)

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	Chat     *chat.Service
	Personas *persona.Service
	Vault    *vault.Service
	Memory   *memory.Service
	LLM      *llm.Client
	Sync     *sync.Engine
	Settings config.SettingsRepository

	platform *sync.ProbePlatform
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settings := config.NewSQLSettingsRepository(db, logger)
	if err := config.LoadSyncSettings(ctx, cfg, settings); err != nil {
		loggy.Warn("Failed to load sync settings from database", "error", err)
		// Continue anyway, using environment values
	}

	clock := sync.NewClock()
	llmClient := llm.NewClient(cfg.LLM, cfg.Memory, clock, logger)

	chatRepo := chat.NewSQLRepository(db, logger)
	personaRepo := persona.NewSQLRepository(db, logger)
	vaultRepo := vault.NewSQLRepository(db, logger)
	memoryRepo := memory.NewSQLRepository(db, logger)

	app := &App{
		Config:   cfg,
		LLM:      llmClient,
		Settings: settings,
	}

	// The fanout is wired to the services after they exist; the engine only
	// invokes it once Start is called
	fanout := &entityFanout{}

	var engine *sync.Engine
	if cfg.Server.Enabled && cfg.Server.URL != "" {
		store := sync.NewHTTPStore(cfg.Server.URL, cfg.Server.Token, cfg.Server.DeviceName, cfg.Server.Timeout, logger)
		platform := sync.NewProbePlatform(cfg.Server.URL, 0, logger)
		journal := sync.NewSQLJournal(db, cfg.Sync.JournalLimit, logger)

		var err error
		engine, err = sync.NewEngine(sync.Options{
			Store:        store,
			Journal:      journal,
			Platform:     platform,
			Applier:      fanout,
			Confirmer:    fanout,
			Clock:        clock,
			Logger:       logger,
			RetryCeiling: cfg.Sync.RetryCeiling,
			BackoffBase:  cfg.Sync.BackoffBase,
			SettleWindow: cfg.Sync.SettleWindow,
			OnTerminal: func(terr *sync.TerminalWriteError) {
				loggy.Warn("Sync writes failed terminally, retry with 'murmur sync now'",
					"group_id", terr.GroupID,
					"writes", len(terr.Writes))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sync engine: %w", err)
		}
		platform.Start(ctx)
		app.platform = platform
		loggy.Info("Sync engine initialized", "server", cfg.Server.URL)
	} else {
		loggy.Info("Remote sync disabled, working offline only")
	}
	app.Sync = engine

	app.Chat = chat.NewService(chatRepo, engine, logger)
	app.Personas = persona.NewService(personaRepo, engine, logger)
	app.Vault = vault.NewService(vaultRepo, engine, logger)
	app.Memory = memory.NewService(memoryRepo, llmClient, clock, cfg.Memory, logger)

	fanout.chat = app.Chat
	fanout.personas = app.Personas
	fanout.vault = app.Vault

	return app, nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if app.Sync != nil {
		app.Sync.Stop()
	}
	if app.platform != nil {
		app.platform.Stop()
	}
	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}
	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}
	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}
	return app, nil
}

// entityFanout dispatches routed events and write confirmations to the
// service owning each entity type
type entityFanout struct {
	chat     *chat.Service
	personas *persona.Service
	vault    *vault.Service
}

func (f *entityFanout) Apply(event sync.Event) {
	switch event.EntityType {
	case sync.EntityTypePersona:
		f.personas.Apply(event)
	case sync.EntityTypeVaultSnippet:
		f.vault.Apply(event)
	default:
		f.chat.Apply(event)
	}
}

func (f *entityFanout) WriteConfirmed(ctx context.Context, write *sync.PendingWrite, remote *sync.RemoteEntity) {
	switch write.EntityType {
	case sync.EntityTypePersona:
		f.personas.WriteConfirmed(ctx, write, remote)
	case sync.EntityTypeVaultSnippet:
		f.vault.WriteConfirmed(ctx, write, remote)
	default:
		f.chat.WriteConfirmed(ctx, write, remote)
	}
}
