// Package main contains the entrypoint for the Telegram bot application.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/joho/godotenv"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tunegrab/tunegrab/internal/bot"
	"github.com/tunegrab/tunegrab/internal/bot/handlers"
	"github.com/tunegrab/tunegrab/internal/bot/tasks"
	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/database"
	"github.com/tunegrab/tunegrab/internal/delivery"
	"github.com/tunegrab/tunegrab/internal/fetcher"
	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/logger"
	"github.com/tunegrab/tunegrab/internal/queue"
	"github.com/tunegrab/tunegrab/internal/resolver"
	"github.com/tunegrab/tunegrab/internal/settings"
	"github.com/tunegrab/tunegrab/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config,
// logger, db, pipeline, bot, scheduler), handles graceful shutdown,
// and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	// A .env file is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	settingsStore, err := settings.NewStore(ctx, store, cfg.Defaults, log)
	if err != nil {
		log.Error("Failed to load runtime settings", "error", err)
		return 1
	}

	resolverSvc := resolver.New(cfg.Download, newSpotifyLookup(ctx, cfg.Spotify, log), log)

	fetcherSvc, err := fetcher.New(cfg.Download, log)
	if err != nil {
		log.Error("Failed to initialize fetcher", "dir", cfg.Download.Dir, "error", err)
		return 1
	}

	// hDeps is shared as a pointer: the queue, dispatcher, and gate are
	// constructed below, after the bot instance they need, and filled in
	// before polling starts.
	hDeps := &handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Settings: settingsStore,
		Panel:    handlers.NewPanelState(),
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewRequestHandler(hDeps)),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	subGate := gate.New(settingsStore, telegram.NewMembers(tg), log)
	transport := telegram.NewTransport(tg)
	sweeper := delivery.NewSweeper(transport, log)
	dispatcher := delivery.NewDispatcher(settingsStore, transport, subGate, sweeper,
		cfg.Telegram.BotInfo.Username, cfg.Queue.PendingFetchTTL, log)
	notifier := handlers.NewNotifier(tg, subGate, log)
	q := queue.New(settingsStore, resolverSvc, subGate, fetcherSvc, dispatcher, notifier,
		cfg.Queue.ResolveRetryBackoff, cfg.Queue.FetchCooldown, log)

	hDeps.Queue = q
	hDeps.Dispatcher = dispatcher
	hDeps.Gate = subGate

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		Sweeper:    sweeper,
		Dispatcher: dispatcher,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, db, tg, q, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// newSpotifyLookup authenticates against the Spotify API when
// credentials are configured. Without them, Spotify links are rejected
// at resolve time.
func newSpotifyLookup(ctx context.Context, cfg config.SpotifyConfig, log *slog.Logger) resolver.TrackLookup {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		log.Info("Spotify credentials not configured, link unwrapping disabled")
		return nil
	}

	authCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := authCfg.Token(ctx)
	if err != nil {
		log.Warn("Spotify authentication failed, link unwrapping disabled", "error", err)
		return nil
	}

	log.Info("Authenticated with Spotify API")
	return spotify.New(spotifyauth.New().Client(ctx, token))
}
