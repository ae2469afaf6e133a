package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tunegrab/tunegrab/internal/delivery"
)

// deepLinkPrefix marks a /start payload carrying a deferred-fetch token.
const deepLinkPrefix = "get_"

// NewStartHandler returns a handler for the /start command. In private
// chats it registers the user and redeems deep-link tokens minted by
// info-mode deliveries.
func NewStartHandler(deps *HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps *HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	if update.Message.Chat.Type != models.ChatTypePrivate {
		log.DebugContext(ctx, "Ignoring /start outside private chat", "chat_id", chatID)
		return
	}

	if err := h.deps.Store.AddUser(ctx, userID); err != nil {
		log.ErrorContext(ctx, "Failed to register user", "error", err, "user_id", userID)
	}

	payload := startPayload(update.Message.Text)
	if strings.HasPrefix(payload, deepLinkPrefix) {
		h.redeem(ctx, b, chatID, userID, strings.TrimPrefix(payload, deepLinkPrefix))
		return
	}

	welcome := "Hi! Send a song name or link in the group and I'll fetch it for you."
	if h.deps.Config.Telegram.BotInfo != nil && h.deps.Config.Telegram.BotInfo.Username != "" {
		welcome = fmt.Sprintf("Hi! I'm @%s. Send a song name or link in the group and I'll fetch it for you.",
			h.deps.Config.Telegram.BotInfo.Username)
	}
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: welcome})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send welcome message", "error", err, "chat_id", chatID)
	}
}

func (h startHandler) redeem(ctx context.Context, b *bot.Bot, chatID, userID int64, token string) {
	log := h.deps.Logger.With("handler", "start")

	outcome, err := h.deps.Dispatcher.Redeem(ctx, userID, token)
	if err != nil {
		log.ErrorContext(ctx, "Deferred fetch redemption failed", "error", err, "user_id", userID)
	}

	var text string
	switch outcome {
	case delivery.RedeemDelivered:
		if err == nil {
			return
		}
		text = "Sending the file failed. Please try again later."
	case delivery.RedeemDenied:
		channel := h.deps.Gate.Channel()
		text = "You must subscribe to our channel to download songs."
		if channel != "" {
			text += " Join " + channel + " and tap the link again."
		}
	case delivery.RedeemUnknown:
		text = "Could not verify channel membership. Please try again in a bit."
	case delivery.RedeemExpired:
		text = "That download link has expired. Request the song again in the group."
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send redemption notice", "error", err, "chat_id", chatID)
	}
}

// startPayload extracts the deep-link payload from a /start message.
func startPayload(text string) string {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
