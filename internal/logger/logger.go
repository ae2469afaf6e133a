// Package logger configures structured logging for the bot and
// provides a Telegram middleware that logs every processed update.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewLogger builds an slog.Logger at the given level. With jsonOutput
// the handler emits JSON, otherwise text. The returned logger is also
// installed as the process default.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Middleware returns a bot middleware that logs each incoming update
// with its type, origin, and handling duration.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			entry := log.With("update_id", update.ID)

			switch {
			case update.Message != nil:
				var userID int64
				if update.Message.From != nil {
					userID = update.Message.From.ID
				}
				entry = entry.With(
					"update_type", "message",
					"message_id", update.Message.ID,
					"chat_id", update.Message.Chat.ID,
					"user_id", userID,
					"text_preview", truncate(update.Message.Text, 50),
				)
			case update.CallbackQuery != nil:
				entry = entry.With(
					"update_type", "callback_query",
					"callback_query_id", update.CallbackQuery.ID,
					"user_id", update.CallbackQuery.From.ID,
					"data", update.CallbackQuery.Data,
				)
				if update.CallbackQuery.Message.Message.Date != 0 {
					entry = entry.With("chat_id", update.CallbackQuery.Message.Message.Chat.ID)
				} else {
					entry = entry.With("chat_id", update.CallbackQuery.Message.InaccessibleMessage.Chat.ID)
				}
			default:
				entry = entry.With("update_type", "other")
			}

			entry.DebugContext(ctx, "processing update")
			next(ctx, b, update)
			entry.InfoContext(ctx, "processed update", "duration", time.Since(start))
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return "..."
	}
	return s[:max-3] + "..."
}
