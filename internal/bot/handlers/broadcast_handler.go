package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// broadcastInterval paces the fan-out to stay under Telegram's flood
// limits.
const broadcastInterval = 100 * time.Millisecond

// NewBroadcastHandler returns a handler for the /broadcast command.
// The admin replies to the message they want broadcast; an inline
// keyboard picks the audience.
func NewBroadcastHandler(deps *HandlerDeps) bot.HandlerFunc {
	return broadcastHandler{deps}.HandleCommand
}

// NewBroadcastCallbackHandler returns a handler for the broadcast_*
// audience-selection callbacks.
func NewBroadcastCallbackHandler(deps *HandlerDeps) bot.HandlerFunc {
	return broadcastHandler{deps}.HandleCallback
}

type broadcastHandler struct {
	deps *HandlerDeps
}

func (h broadcastHandler) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "broadcast")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if update.Message.ReplyToMessage == nil {
		_, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Reply to the message you want to broadcast with /broadcast.",
		})
		if err != nil {
			log.ErrorContext(ctx, "Failed to send broadcast usage", "error", err, "chat_id", chatID)
		}
		return
	}

	h.deps.Panel.setBroadcast(update.Message.From.ID, broadcastDraft{
		FromChatID: chatID,
		MessageID:  update.Message.ReplyToMessage.ID,
	})

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Broadcast this message to:",
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{
					{Text: "All users", CallbackData: "broadcast_users"},
					{Text: "The group", CallbackData: "broadcast_group"},
				},
				{
					{Text: "Cancel", CallbackData: "broadcast_cancel"},
				},
			},
		},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send broadcast prompt", "error", err, "chat_id", chatID)
	}
}

func (h broadcastHandler) HandleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "broadcast")

	cq := update.CallbackQuery
	if cq == nil || cq.Message.Message == nil {
		return
	}
	chatID := cq.Message.Message.Chat.ID
	messageID := cq.Message.Message.ID
	userID := cq.From.ID

	_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})
	if err != nil {
		log.ErrorContext(ctx, "Failed to answer callback query", "error", err)
	}

	draft, ok := h.deps.Panel.takeBroadcast(userID)
	if !ok {
		h.editStatus(ctx, b, chatID, messageID, "There is no pending broadcast. Reply to a message with /broadcast first.")
		return
	}

	switch cq.Data {
	case "broadcast_cancel":
		h.editStatus(ctx, b, chatID, messageID, "Broadcast cancelled.")
		return

	case "broadcast_group":
		group := h.deps.Settings.Snapshot().AllowedGroupID
		if group == 0 {
			h.editStatus(ctx, b, chatID, messageID, "No group is configured.")
			return
		}
		sent, failed := h.fanOut(ctx, b, draft, []int64{group})
		h.editStatus(ctx, b, chatID, messageID, summary(sent, failed))

	case "broadcast_users":
		userIDs, err := h.deps.Store.AllUserIDs(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load broadcast recipients", "error", err)
			h.editStatus(ctx, b, chatID, messageID, "Could not load the recipient list.")
			return
		}
		h.editStatus(ctx, b, chatID, messageID, fmt.Sprintf("Broadcasting to %d users…", len(userIDs)))
		sent, failed := h.fanOut(ctx, b, draft, userIDs)
		h.editStatus(ctx, b, chatID, messageID, summary(sent, failed))

	default:
		log.WarnContext(ctx, "Unknown broadcast callback", "data", cq.Data)
	}
}

// fanOut copies the draft message to every target, paced by a rate
// limiter. Individual failures (blocked bot, deleted account) are
// counted and skipped.
func (h broadcastHandler) fanOut(ctx context.Context, b *bot.Bot, draft broadcastDraft, targets []int64) (sent, failed int) {
	log := h.deps.Logger.With("handler", "broadcast")
	limiter := rate.NewLimiter(rate.Every(broadcastInterval), 1)

	for _, target := range targets {
		if err := limiter.Wait(ctx); err != nil {
			log.WarnContext(ctx, "Broadcast interrupted", "error", err, "sent", sent)
			failed += len(targets) - sent - failed
			return sent, failed
		}

		_, err := b.CopyMessage(ctx, &bot.CopyMessageParams{
			ChatID:     target,
			FromChatID: draft.FromChatID,
			MessageID:  draft.MessageID,
		})
		if err != nil {
			log.DebugContext(ctx, "Broadcast copy failed", "error", err, "target", target)
			failed++
			continue
		}
		sent++
	}

	log.InfoContext(ctx, "Broadcast finished", "sent", sent, "failed", failed)
	return sent, failed
}

func (h broadcastHandler) editStatus(ctx context.Context, b *bot.Bot, chatID int64, messageID int, text string) {
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to edit broadcast status", "error", err, "chat_id", chatID)
	}
}

func summary(sent, failed int) string {
	return fmt.Sprintf("Broadcast done. Sent: %d, failed: %d.", sent, failed)
}
