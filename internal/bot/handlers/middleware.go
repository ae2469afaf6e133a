package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly rejects message updates whose sender is not in the
// configured admin list.
func AdminOnly(deps *HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.Message == nil || update.Message.From == nil {
				next(ctx, b, update)
				return
			}

			userID := update.Message.From.ID
			if !deps.Config.Telegram.IsAdmin(userID) {
				chatID := update.Message.Chat.ID
				deps.Logger.WarnContext(ctx, "Unauthorized admin command",
					"user_id", userID, "chat_id", chatID)

				_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   "You are not authorized to use this command.",
				})
				if err != nil {
					deps.Logger.ErrorContext(ctx, "Failed to send unauthorized message",
						"error", err, "chat_id", chatID)
				}
				return
			}

			next(ctx, b, update)
		}
	}
}

// AdminCallbackOnly silently drops callback queries from non-admins.
func AdminCallbackOnly(deps *HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.CallbackQuery == nil {
				next(ctx, b, update)
				return
			}
			userID := update.CallbackQuery.From.ID
			if !deps.Config.Telegram.IsAdmin(userID) {
				deps.Logger.WarnContext(ctx, "Unauthorized admin callback", "user_id", userID)
				_, _ = b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
					CallbackQueryID: update.CallbackQuery.ID,
					Text:            "Not authorized.",
				})
				return
			}
			next(ctx, b, update)
		}
	}
}
