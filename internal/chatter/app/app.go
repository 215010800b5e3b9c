// Package app wires the Chatter process: storage, the completion provider,
// the session manager, the command router and the Matrix bridge.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bdobrica/Chatter/internal/chatter/commands"
	"github.com/bdobrica/Chatter/internal/chatter/config"
	"github.com/bdobrica/Chatter/internal/chatter/confirm"
	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/matrix"
	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/session"
	"github.com/bdobrica/Chatter/internal/chatter/store"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	// GuildID scopes personas and the daily token budget. Defaults to the
	// bot's homeserver.
	GuildID string
	Matrix  matrix.Config

	// APIKey, APIBase and Model configure the OpenAI-compatible completion
	// endpoint. Model and MaxOutputTokens are defaults that `/chatter config`
	// can override at runtime.
	APIKey          string
	APIBase         string
	Model           string
	MaxOutputTokens int
	// Provider replaces the OpenAI client, mainly for tests.
	Provider llm.Provider

	// MessageLimit is the longest message the platform accepts, in
	// characters.
	MessageLimit    int
	ContinueTimeout time.Duration
	ConfirmTimeout  time.Duration

	// RateLimit is the number of completions one sender may trigger per
	// minute.
	RateLimit        int
	DailyTokenBudget int

	// PersonasFile is an optional YAML catalogue upserted at startup.
	PersonasFile string
	// HTTPAddr is the TCP address for the optional health/status HTTP server
	// (e.g. ":8080"). When empty the server is disabled.
	HTTPAddr string

	Logger *slog.Logger
}

// chatClient is the part of the Matrix client the bridge uses.
type chatClient interface {
	UserID() string
	Send(ctx context.Context, msg matrix.Outgoing) (string, error)
	SendNotice(ctx context.Context, roomID, message string) (string, error)
	React(ctx context.Context, roomID, eventID, key string) error
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
	Sender(ctx context.Context, roomID, eventID string) (string, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// App is the main Chatter application
type App struct {
	config   *Config
	logger   *slog.Logger
	store    *store.Store
	registry *persona.SQLiteRegistry
	log      *history.SQLiteLog
	matrix   *matrix.Client
	client   chatClient
	router   *commands.Router
	handlers *commands.Handlers
	sessions *session.Manager
	broker   *confirm.Broker
	limiter  *llm.RateLimiter
	budget   *llm.TokenBudget

	healthServer *HealthServer

	// mu guards the caches below.
	mu      sync.Mutex
	names   map[string]string
	ownMsgs *recentSet
}

// New creates a new Chatter application
func New(cfg *Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The sync token lives in the same database so a restart does not
	// replay room history.
	matrixCfg := cfg.Matrix
	matrixCfg.DB = st.DB()
	matrixCfg.Logger = logger
	logger.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	client, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	a, err := newApp(cfg, st, client)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.matrix = client
	return a, nil
}

// newApp builds everything that does not need a live homeserver.
func newApp(cfg *Config, st *store.Store, client chatClient) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GuildID == "" {
		cfg.GuildID = homeserverOf(client.UserID())
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = orchestrator.DefaultMaxOutputTokens
	}

	limits := persona.DefaultLimits()
	registry := persona.NewSQLiteRegistry(st, limits, logger)
	log := history.NewSQLiteLog(st, logger)

	if cfg.PersonasFile != "" {
		personas, err := persona.LoadCatalogue(cfg.PersonasFile, cfg.GuildID, limits)
		if err != nil {
			return nil, err
		}
		if _, err := persona.ApplyCatalogue(context.Background(), registry, personas, logger); err != nil {
			return nil, err
		}
	}

	// Runtime knobs (chat.model, chat.max_output_tokens) are read on every
	// exchange so `/chatter config set` takes effect immediately.
	settings := config.New(st)
	tuning := config.NewTuning(settings, orchestrator.StaticTuning{
		ModelName: cfg.Model,
		MaxTokens: cfg.MaxOutputTokens,
	}, logger)
	counter := tokens.NewCache(tokens.NewHeuristic(), tokens.DefaultCacheSize)

	provider := cfg.Provider
	if provider == nil {
		if cfg.APIKey == "" {
			logger.Warn("no completion API key configured; requests will likely be rejected")
		}
		provider = llm.NewOpenAI(llm.Config{APIKey: cfg.APIKey, BaseURL: cfg.APIBase, Model: cfg.Model})
	}
	orch := orchestrator.New(provider, orchestrator.Config{
		Tuning:       tuning,
		MessageLimit: cfg.MessageLimit,
		Counter:      counter,
		Logger:       logger,
	})

	a := &App{
		config:   cfg,
		logger:   logger,
		store:    st,
		registry: registry,
		log:      log,
		client:   client,
		limiter:  llm.NewRateLimiter(cfg.RateLimit, llm.DefaultRateWindow),
		budget:   llm.NewTokenBudget(cfg.DailyTokenBudget),
		names:    make(map[string]string),
		ownMsgs:  newRecentSet(recentMessages),
	}

	ttl := cfg.ConfirmTimeout
	if ttl <= 0 {
		ttl = confirm.DefaultTTL
	}
	a.broker = confirm.NewBroker(ttl, confirm.NotifierFunc(a.announce), logger)

	a.sessions = session.New(session.Config{
		Completer:         orch,
		Asker:             a.broker,
		Counter:           counter,
		Tuning:            tuning,
		ContinueTimeout:   cfg.ContinueTimeout,
		OnContinueExpired: a.continueExpired,
		Logger:            logger,
	})

	a.handlers = commands.NewHandlers(commands.HandlersConfig{
		GuildID:  cfg.GuildID,
		Registry: registry,
		Limits:   limits,
		Log:      log,
		Sessions: a.sessions,
		Settings: settings,
		Tuning:   tuning,
		Counter:  counter,
		Asker:    a.broker,
		Deliver:  a.deliver,
		Logger:   logger,
	})
	a.router = commands.NewRouter(commands.Prefix, commands.BoolFlags...)
	a.handlers.Register(a.router)

	if cfg.HTTPAddr != "" {
		a.healthServer = NewHealthServer(cfg.HTTPAddr, a)
		logger.Info("health server configured", "addr", cfg.HTTPAddr)
	}

	logger.Info("chatter ready",
		"guild", cfg.GuildID,
		"model", cfg.Model,
		"rate_limit_per_minute", cfg.RateLimit,
		"daily_tokens", a.budget.Budget())
	return a, nil
}

// Run starts the Chatter application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	a.logger.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage, a.handleReaction); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	a.logger.Info("Chatter is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutting down")
	return nil
}

// Stop stops the Chatter application
func (a *App) Stop() {
	if a.matrix != nil {
		a.logger.Info("stopping Matrix client")
		a.matrix.Stop()
	}

	if a.healthServer != nil {
		a.logger.Info("stopping health server")
		a.healthServer.Stop()
	}

	a.sessions.Close()

	a.logger.Info("closing database")
	a.store.Close()
}

// SessionCount implements statusProvider.
func (a *App) SessionCount() int {
	return a.sessions.Count()
}

// PersonaCount implements statusProvider.
func (a *App) PersonaCount(ctx context.Context) (int, error) {
	return a.registry.Count(ctx, a.config.GuildID)
}
