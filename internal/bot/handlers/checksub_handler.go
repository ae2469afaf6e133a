package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/queue"
)

// NewCheckSubHandler returns a handler for checksub:<jobID> callbacks,
// the Try Again button on gate denials. It re-runs the membership check
// and resubmits the failed job's raw text on success.
func NewCheckSubHandler(deps *HandlerDeps) bot.HandlerFunc {
	return checkSubHandler{deps}.Handle
}

type checkSubHandler struct {
	deps *HandlerDeps
}

func (h checkSubHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "checksub")

	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	jobID := strings.TrimPrefix(cq.Data, "checksub:")
	userID := cq.From.ID

	answer := func(notice string, alert bool) {
		_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: cq.ID,
			Text:            notice,
			ShowAlert:       alert,
		})
		if err != nil {
			log.ErrorContext(ctx, "Failed to answer callback query", "error", err)
		}
	}

	switch h.deps.Gate.Check(ctx, userID) {
	case gate.Yes:
		// fall through to resubmission
	case gate.No:
		answer("You are still not subscribed to the channel.", true)
		return
	default:
		answer("Could not verify membership right now. Try again in a bit.", true)
		return
	}

	if _, err := h.deps.Queue.Resubmit(jobID); err != nil {
		log.WarnContext(ctx, "Resubmission rejected", "error", err, "job_id", jobID, "user_id", userID)
		notice := "This request can no longer be retried. Send it again in the group."
		if errors.Is(err, queue.ErrUnknownJob) {
			notice = "That request has expired. Send it again in the group."
		}
		answer(notice, true)
		return
	}

	log.InfoContext(ctx, "Job resubmitted after subscription check", "job_id", jobID, "user_id", userID)
	answer("Subscription confirmed, fetching your song.", false)

	// Drop the stale denial keyboard; the message itself stays.
	if cq.Message.Message != nil {
		_, err := b.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
			ChatID:    cq.Message.Message.Chat.ID,
			MessageID: cq.Message.Message.ID,
		})
		if err != nil {
			log.DebugContext(ctx, "Failed to clear denial keyboard", "error", err)
		}
	}
}
