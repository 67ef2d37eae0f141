package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ziadkadry99/bms-assistant/internal/audit"
	"github.com/ziadkadry99/bms-assistant/internal/config"
	"github.com/ziadkadry99/bms-assistant/internal/db"
	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
	"github.com/ziadkadry99/bms-assistant/internal/knowledge"
	"github.com/ziadkadry99/bms-assistant/internal/llm"
	"github.com/ziadkadry99/bms-assistant/internal/notifications"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

// app is everything a command needs to run turns.
type app struct {
	cfg        *config.Config
	db         *db.DB
	platform   platform.Client
	sessions   *session.Store
	handlers   *dispatch.Handlers
	engine     *dispatch.Engine
	audit      *audit.Store
	notes      *notifications.Store
	dispatcher *notifications.Dispatcher
	faults     *knowledge.Base
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `bmsassist init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newApp wires the engine from config. Close releases the database.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := createPlatformFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating platform client: %w", err)
	}

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sessOpts := []session.Option{
		session.WithHistoryLimit(cfg.Session.HistoryLimit),
		session.WithTimeout(cfg.SessionTimeout()),
		session.WithLogger(logger.Named("session")),
	}
	if cfg.Session.Persist {
		sessOpts = append(sessOpts, session.WithJournal(session.NewSQLJournal(database)))
	}
	sessions := session.NewStore(sessOpts...)

	faults, err := createKnowledgeFromConfig(ctx, cfg)
	if err != nil {
		// Root-cause questions degrade to a polite refusal.
		logger.Warn("fault knowledge base unavailable", zap.Error(err))
	}

	handlers := dispatch.NewHandlers(dispatch.Deps{
		Platform:  client,
		LLM:       createLLMProviderFromConfig(ctx, cfg),
		Knowledge: faults,
		Logger:    logger.Named("handlers"),
	})

	rules, err := notifications.NewEngine(notifications.DefaultRules()...)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("compiling notification rules: %w", err)
	}
	notes := notifications.NewStore(database)
	dispatcher := notifications.NewDispatcher(rules, notes, sessions, logger.Named("notifications"))
	auditor := audit.NewStore(database)

	engine := dispatch.NewEngine(sessions, dispatch.NewTable(handlers),
		dispatch.WithAuditor(auditor),
		dispatch.WithNotifier(dispatcher),
		dispatch.WithLogger(logger.Named("engine")),
	)

	return &app{
		cfg:        cfg,
		db:         database,
		platform:   client,
		sessions:   sessions,
		handlers:   handlers,
		engine:     engine,
		audit:      auditor,
		notes:      notes,
		dispatcher: dispatcher,
		faults:     faults,
	}, nil
}

// runJanitor evicts idle sessions until ctx is done.
func (a *app) runJanitor(ctx context.Context) {
	go a.sessions.Run(ctx, a.cfg.SweepInterval())
}

func (a *app) Close() error {
	return a.db.Close()
}

// createPlatformFromConfig returns the live REST client or the demo
// building.
func createPlatformFromConfig(cfg *config.Config) (platform.Client, error) {
	switch cfg.Platform.Mode {
	case config.ModeLive:
		return platform.NewHTTPClient(cfg.Platform.BaseURL, cfg.Platform.Token,
			platform.WithTimeout(cfg.PlatformTimeout()),
			platform.WithMaxRetries(cfg.Platform.MaxRetries),
			platform.WithLogger(logger.Named("platform")),
		), nil
	default:
		if cfg.Platform.Fixture != "" {
			return platform.LoadFixtureFile(cfg.Platform.Fixture)
		}
		return platform.LoadDemo()
	}
}

// createLLMProviderFromConfig returns nil when no provider is configured
// or its key is missing; the handlers then answer deterministically.
func createLLMProviderFromConfig(ctx context.Context, cfg *config.Config) llm.Provider {
	if cfg.LLM.Provider == config.ProviderNone {
		return nil
	}
	provider, err := llm.NewProvider(ctx, string(cfg.LLM.Provider), cfg.LLM.Model)
	if err != nil {
		logger.Warn("LLM disabled", zap.String("provider", string(cfg.LLM.Provider)), zap.Error(err))
		return nil
	}
	if cfg.LLM.RequestsPerMinute > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.LLM.RequestsPerMinute)
	}
	return provider
}

// createKnowledgeFromConfig builds the fault knowledge base with the
// configured embedder.
func createKnowledgeFromConfig(ctx context.Context, cfg *config.Config) (*knowledge.Base, error) {
	var embedder knowledge.Embedder
	switch cfg.Embedding.Provider {
	case config.EmbedderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI embeddings")
		}
		embedder = knowledge.NewOpenAIEmbedder(apiKey, cfg.Embedding.Model)
	default:
		embedder = knowledge.NewHashEmbedder(cfg.Embedding.Dimensions)
	}
	return knowledge.New(ctx, embedder)
}
