package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewCancelHandler returns a handler for the /cancel command, which
// discards any pending panel edit of the sender.
func NewCancelHandler(deps *HandlerDeps) bot.HandlerFunc {
	return cancelHandler{deps}.Handle
}

type cancelHandler struct {
	deps *HandlerDeps
}

func (h cancelHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "cancel")

	if update.Message == nil || update.Message.From == nil {
		return
	}

	text := "Nothing to cancel."
	if h.deps.Panel.clear(update.Message.From.ID) {
		text = "Cancelled. Nothing was changed."
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: update.Message.Chat.ID, Text: text})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send cancel confirmation", "error", err, "chat_id", update.Message.Chat.ID)
	}
}
