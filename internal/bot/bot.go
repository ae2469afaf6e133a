// Package bot wires the application components together and manages
// their lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/tunegrab/tunegrab/internal/queue"
)

// Bot runs the Telegram listener, the request queue, and the task
// scheduler until the context is cancelled.
type Bot struct {
	logger    *slog.Logger
	db        *sqlx.DB
	tgBot     *tgbot.Bot
	queue     *queue.Queue
	scheduler *Scheduler
}

// NewBot creates the orchestrator.
func NewBot(logger *slog.Logger, db *sqlx.DB, tgBot *tgbot.Bot, q *queue.Queue, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "orchestrator"),
		db:        db,
		tgBot:     tgBot,
		queue:     q,
		scheduler: scheduler,
	}
}

// Run starts every component and blocks until shutdown. It returns an
// error when a component fails rather than stopping cleanly.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram listener...")
		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram listener stopped.")

		if gCtx.Err() == nil {
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		return b.queue.Run(gCtx)
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
