package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tunegrab/tunegrab/internal/delivery"
	"github.com/tunegrab/tunegrab/internal/media"
)

// Transport adapts *bot.Bot to the delivery package's Transport
// interface.
type Transport struct {
	bot *bot.Bot
}

// NewTransport creates a Transport adapter.
func NewTransport(b *bot.Bot) *Transport {
	return &Transport{bot: b}
}

// SendAudio uploads the artifact as an audio message.
func (t *Transport) SendAudio(ctx context.Context, chatID int64, artifact *media.Artifact, desc *media.Descriptor) (delivery.MessageRef, error) {
	f, err := os.Open(artifact.LocalRef)
	if err != nil {
		return delivery.MessageRef{}, media.NewFlowError(media.KindDeliverTransport,
			fmt.Errorf("failed to open artifact: %w", err))
	}
	defer f.Close()

	msg, err := t.bot.SendAudio(ctx, &bot.SendAudioParams{
		ChatID:    chatID,
		Audio:     &models.InputFileUpload{Filename: filepath.Base(artifact.LocalRef), Data: f},
		Caption:   delivery.Caption(desc),
		Title:     desc.Title,
		Performer: desc.Artist,
		Duration:  int(desc.Duration.Seconds()),
	})
	if err != nil {
		return delivery.MessageRef{}, classifySendError(err)
	}
	return delivery.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

// SendCard posts a text summary with a single URL button.
func (t *Transport) SendCard(ctx context.Context, chatID int64, text, buttonText, buttonURL string) (delivery.MessageRef, error) {
	msg, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: buttonText, URL: buttonURL}},
			},
		},
	})
	if err != nil {
		return delivery.MessageRef{}, classifySendError(err)
	}
	return delivery.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

// DeleteMessage removes a previously sent message.
func (t *Transport) DeleteMessage(ctx context.Context, ref delivery.MessageRef) error {
	_, err := t.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
	})
	return err
}

// classifySendError maps Telegram send failures onto the pipeline
// taxonomy. Payload-size rejections are permanent, everything else is
// a transport error.
func classifySendError(err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "request entity too large") ||
		strings.Contains(lower, "file is too big") {
		return media.NewFlowError(media.KindDeliverTooLarge, err)
	}
	return media.NewFlowError(media.KindDeliverTransport, err)
}

// Members adapts *bot.Bot to the gate package's Members interface.
type Members struct {
	bot *bot.Bot
}

// NewMembers creates a Members adapter.
func NewMembers(b *bot.Bot) *Members {
	return &Members{bot: b}
}

// IsChannelMember reports whether the user belongs to the channel.
// Errors mean the lookup itself failed, typically because the bot is
// not an administrator of the channel.
func (m *Members) IsChannelMember(ctx context.Context, channel string, userID int64) (bool, error) {
	member, err := m.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: channel,
		UserID: userID,
	})
	if err != nil {
		return false, fmt.Errorf("get chat member failed: %w", err)
	}

	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true, nil
	default:
		return false, nil
	}
}
