package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tunegrab/tunegrab/internal/queue"
)

// NewRequestHandler returns the default message handler. Group text in
// the allowed group becomes a media request; private text from an admin
// may complete a pending panel edit.
func NewRequestHandler(deps *HandlerDeps) bot.HandlerFunc {
	return requestHandler{deps}.Handle
}

type requestHandler struct {
	deps *HandlerDeps
}

func (h requestHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "request")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if text == "" || strings.HasPrefix(text, "/") {
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	if update.Message.Chat.Type == models.ChatTypePrivate {
		if h.deps.Config.Telegram.IsAdmin(userID) {
			h.handlePanelReply(ctx, b, chatID, userID, text)
		}
		return
	}

	allowed := h.deps.Settings.Snapshot().AllowedGroupID
	if allowed != 0 && chatID != allowed {
		log.DebugContext(ctx, "Ignoring request outside allowed group", "chat_id", chatID)
		return
	}

	_, err := h.deps.Queue.Submit(queue.Request{ChatID: chatID, RequesterID: userID, Text: text})
	if err != nil {
		log.WarnContext(ctx, "Request submission rejected", "error", err, "chat_id", chatID, "user_id", userID)
		reply := "Something went wrong, please try again later."
		if errors.Is(err, queue.ErrQueueFull) {
			reply = "The queue for this chat is full. Please wait for pending requests to finish."
		}
		_, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: reply})
		if sendErr != nil {
			log.ErrorContext(ctx, "Failed to send submission error", "error", sendErr, "chat_id", chatID)
		}
		return
	}

	log.InfoContext(ctx, "Request submitted", "chat_id", chatID, "user_id", userID)
}

// handlePanelReply consumes a pending panel edit, if any, with the
// message text as its value.
func (h requestHandler) handlePanelReply(ctx context.Context, b *bot.Bot, chatID, userID int64, text string) {
	log := h.deps.Logger.With("handler", "request")

	reply := func(msg string) {
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: msg}); err != nil {
			log.ErrorContext(ctx, "Failed to send panel reply", "error", err, "chat_id", chatID)
		}
	}

	switch {
	case h.deps.Panel.takeDelay(userID):
		minutes, err := strconv.Atoi(text)
		if err != nil {
			reply("That is not a number. Delay unchanged; open /panel to try again.")
			return
		}
		if err := h.deps.Settings.SetAutoDeleteMinutes(ctx, minutes); err != nil {
			log.WarnContext(ctx, "Rejected auto-delete delay", "error", err, "value", minutes)
			reply("Invalid delay. Use 0 to disable or a positive number of minutes.")
			return
		}
		if minutes == 0 {
			reply("Auto-delete disabled.")
		} else {
			reply("Auto-delete delay set to " + strconv.Itoa(minutes) + " minutes.")
		}

	case h.deps.Panel.takeChannel(userID):
		channel := text
		if strings.EqualFold(channel, "off") {
			channel = ""
		}
		if err := h.deps.Settings.SetForceSubChannel(ctx, channel); err != nil {
			log.WarnContext(ctx, "Rejected subscription channel", "error", err, "value", text)
			reply("Invalid channel username. Use @channelname, or \"off\" to disable.")
			return
		}
		if ch := h.deps.Settings.Snapshot().ForceSubChannel; ch == "" {
			reply("Forced subscription disabled.")
		} else {
			reply("Subscription channel set to " + ch + ".")
		}
	}
}
