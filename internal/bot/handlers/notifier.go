package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/media"
	"github.com/tunegrab/tunegrab/internal/queue"
)

// Notifier reports pipeline progress back to the requesting chat. It
// implements queue.Notifier.
type Notifier struct {
	bot    *tgbot.Bot
	gate   *gate.Gate
	logger *slog.Logger
}

// NewNotifier creates a notifier sending progress messages through the
// given bot instance.
func NewNotifier(b *tgbot.Bot, g *gate.Gate, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{bot: b, gate: g, logger: logger.With("component", "notifier")}
}

// JobQueued tells the requester how many requests are ahead of theirs.
func (n *Notifier) JobQueued(ctx context.Context, job *queue.Job, position int) {
	noun := "requests"
	if position == 1 {
		noun = "request"
	}
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: job.ChatID,
		Text:   fmt.Sprintf("Added to the queue. %d %s ahead of yours.", position, noun),
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to send queued notice",
			"error", err, "job_id", job.ID, "chat_id", job.ChatID)
	}
}

// JobDelivered is a no-op; the delivered media is its own confirmation.
func (n *Notifier) JobDelivered(ctx context.Context, job *queue.Job, rec *media.DeliveryRecord) {
	n.logger.DebugContext(ctx, "Job delivered",
		"job_id", job.ID, "chat_id", rec.ChatID, "mode", rec.ModeUsed)
}

// JobFailed sends the user-facing failure message. Gate denials also
// carry a subscribe link and a Try Again button.
func (n *Notifier) JobFailed(ctx context.Context, job *queue.Job, jobErr error) {
	params := &tgbot.SendMessageParams{
		ChatID: job.ChatID,
		Text:   media.UserMessage(jobErr),
	}

	if media.KindOf(jobErr) == media.KindGateDenied {
		if kb := n.subscribeKeyboard(job.ID); kb != nil {
			params.ReplyMarkup = kb
		}
	}

	if _, err := n.bot.SendMessage(ctx, params); err != nil {
		n.logger.ErrorContext(ctx, "Failed to send failure notice",
			"error", err, "job_id", job.ID, "chat_id", job.ChatID)
	}
}

func (n *Notifier) subscribeKeyboard(jobID string) *models.InlineKeyboardMarkup {
	channel := n.gate.Channel()
	if channel == "" {
		return nil
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Join Channel", URL: "https://t.me/" + strings.TrimPrefix(channel, "@")},
			},
			{
				{Text: "Try Again", CallbackData: "checksub:" + jobID},
			},
		},
	}
}
