package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tunegrab/tunegrab/internal/settings"
)

// NewPanelHandler returns a handler for the /panel command, which opens
// the admin settings panel.
func NewPanelHandler(deps *HandlerDeps) bot.HandlerFunc {
	return panelHandler{deps}.HandleCommand
}

// NewPanelCallbackHandler returns a handler for the panel's admin_*
// callback buttons.
func NewPanelCallbackHandler(deps *HandlerDeps) bot.HandlerFunc {
	return panelHandler{deps}.HandleCallback
}

type panelHandler struct {
	deps *HandlerDeps
}

func (h panelHandler) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "panel")

	if update.Message == nil || update.Message.From == nil {
		return
	}

	text, kb := h.render()
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        text,
		ReplyMarkup: kb,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send admin panel", "error", err, "chat_id", update.Message.Chat.ID)
	}
}

func (h panelHandler) HandleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "panel")

	cq := update.CallbackQuery
	if cq == nil || cq.Message.Message == nil {
		return
	}
	chatID := cq.Message.Message.Chat.ID
	messageID := cq.Message.Message.ID
	userID := cq.From.ID

	answer := func(notice string) {
		_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: cq.ID,
			Text:            notice,
		})
		if err != nil {
			log.ErrorContext(ctx, "Failed to answer callback query", "error", err)
		}
	}

	switch cq.Data {
	case "admin_upload":
		cur := h.deps.Settings.Snapshot().UploadMode
		next := settings.UploadModeInfo
		if cur == settings.UploadModeInfo {
			next = settings.UploadModeDirect
		}
		if err := h.deps.Settings.SetUploadMode(ctx, next); err != nil {
			log.ErrorContext(ctx, "Failed to switch upload mode", "error", err)
			answer("Failed to save the setting.")
			return
		}
		answer("Upload mode: " + next)
		h.refresh(ctx, b, chatID, messageID)

	case "admin_queue":
		next := !h.deps.Settings.Snapshot().QueueEnabled
		if err := h.deps.Settings.SetQueueEnabled(ctx, next); err != nil {
			log.ErrorContext(ctx, "Failed to toggle queue", "error", err)
			answer("Failed to save the setting.")
			return
		}
		if next {
			answer("Queue enabled")
		} else {
			answer("Queue disabled")
		}
		h.refresh(ctx, b, chatID, messageID)

	case "admin_delay":
		h.deps.Panel.awaitDelay(userID)
		answer("")
		h.edit(ctx, b, chatID, messageID,
			"Send the new auto-delete delay in minutes (0 disables). Use /cancel to abort.",
			backKeyboard())

	case "admin_channel":
		h.deps.Panel.awaitChannel(userID)
		answer("")
		h.edit(ctx, b, chatID, messageID,
			"Send the subscription channel as @channelname, or \"off\" to disable. Use /cancel to abort.",
			backKeyboard())

	case "admin_stats":
		answer("")
		h.edit(ctx, b, chatID, messageID, h.statsText(ctx), backKeyboard())

	case "admin_back":
		h.deps.Panel.clear(userID)
		answer("")
		h.refresh(ctx, b, chatID, messageID)

	case "admin_close":
		h.deps.Panel.clear(userID)
		answer("")
		_, err := b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID})
		if err != nil {
			log.ErrorContext(ctx, "Failed to close admin panel", "error", err, "chat_id", chatID)
		}

	default:
		log.WarnContext(ctx, "Unknown panel callback", "data", cq.Data)
		answer("")
	}
}

// render builds the panel text and keyboard from the current settings.
func (h panelHandler) render() (string, *models.InlineKeyboardMarkup) {
	snap := h.deps.Settings.Snapshot()

	delay := "off"
	if snap.AutoDeleteMinutes > 0 {
		delay = fmt.Sprintf("%d min", snap.AutoDeleteMinutes)
	}
	queueLabel := "off"
	if snap.QueueEnabled {
		queueLabel = "on"
	}
	channel := snap.ForceSubChannel
	if channel == "" {
		channel = "off"
	}

	text := fmt.Sprintf(
		"Bot settings\n\nUpload mode: %s\nQueue: %s\nAuto-delete: %s\nSubscription: %s",
		snap.UploadMode, queueLabel, delay, channel)

	kb := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Upload mode: " + snap.UploadMode, CallbackData: "admin_upload"},
				{Text: "Queue: " + queueLabel, CallbackData: "admin_queue"},
			},
			{
				{Text: "Auto-delete: " + delay, CallbackData: "admin_delay"},
				{Text: "Subscription: " + channel, CallbackData: "admin_channel"},
			},
			{
				{Text: "Stats", CallbackData: "admin_stats"},
				{Text: "Close", CallbackData: "admin_close"},
			},
		},
	}
	return text, kb
}

func (h panelHandler) refresh(ctx context.Context, b *bot.Bot, chatID int64, messageID int) {
	text, kb := h.render()
	h.edit(ctx, b, chatID, messageID, text, kb)
}

func (h panelHandler) edit(ctx context.Context, b *bot.Bot, chatID int64, messageID int, text string, kb *models.InlineKeyboardMarkup) {
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: kb,
	})
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to edit admin panel", "error", err, "chat_id", chatID)
	}
}

func (h panelHandler) statsText(ctx context.Context) string {
	users, err := h.deps.Store.CountUsers(ctx)
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to count users", "error", err)
		return "Stats are unavailable right now."
	}
	return fmt.Sprintf(
		"Stats\n\nRegistered users: %d\nPending deferred fetches: %d\nScheduled deletions: %d",
		users, h.deps.Dispatcher.PendingCount(), h.deps.Dispatcher.DeletionBacklog())
}

func backKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Back", CallbackData: "admin_back"}},
		},
	}
}
