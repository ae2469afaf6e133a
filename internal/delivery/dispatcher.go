// Package delivery sends resolved artifacts to chats. It owns the
// delivery mode decision (direct vs info card), the registry of
// deferred info-mode fetches, and the best-effort deletion sweep.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/media"
	"github.com/tunegrab/tunegrab/internal/settings"
)

// Telegram bots cannot upload files above 50 MB; stay just under.
const maxUploadBytes = 49 << 20

// MessageRef identifies one sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Transport abstracts the Telegram calls the dispatcher and sweeper
// need. Implementations classify send failures onto the pipeline error
// taxonomy (too-large vs transport error).
type Transport interface {
	SendAudio(ctx context.Context, chatID int64, artifact *media.Artifact, desc *media.Descriptor) (MessageRef, error)
	SendCard(ctx context.Context, chatID int64, text, buttonText, buttonURL string) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// SubscriptionGate is the slice of the gate the dispatcher needs when
// a deferred fetch is redeemed.
type SubscriptionGate interface {
	Check(ctx context.Context, userID int64) gate.Status
	Channel() string
}

// RedeemOutcome reports what happened when a deferred fetch was
// invoked.
type RedeemOutcome int

const (
	RedeemDelivered RedeemOutcome = iota
	RedeemDenied
	RedeemUnknown
	RedeemExpired
)

// pendingFetch is one parked info-mode artifact awaiting private
// redemption. It is not consumed by redemption; it lives until expiry.
type pendingFetch struct {
	jobID     string
	artifact  *media.Artifact
	desc      *media.Descriptor
	expiresAt time.Time
}

// Dispatcher implements the delivery step of the pipeline.
type Dispatcher struct {
	settings    *settings.Store
	transport   Transport
	gate        SubscriptionGate
	sweeper     *Sweeper
	botUsername string
	pendingTTL  time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingFetch
}

// NewDispatcher creates a Dispatcher. botUsername (without @) is used
// to build deep links on info cards.
func NewDispatcher(
	settingsStore *settings.Store,
	transport Transport,
	subGate SubscriptionGate,
	sweeper *Sweeper,
	botUsername string,
	pendingTTL time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		settings:    settingsStore,
		transport:   transport,
		gate:        subGate,
		sweeper:     sweeper,
		botUsername: botUsername,
		pendingTTL:  pendingTTL,
		logger:      logger.With("component", "dispatcher"),
		pending:     make(map[string]*pendingFetch),
	}
}

// Deliver sends the artifact for a job. Upload mode and auto-delete
// delay are read now, not at submission, so mid-queue setting changes
// apply to jobs that have not yet reached this point. On error the
// artifact is released; on success its ownership stays with the
// dispatcher (sent and removed in direct mode, parked in info mode).
func (d *Dispatcher) Deliver(ctx context.Context, jobID string, chatID int64, desc *media.Descriptor, artifact *media.Artifact) (*media.DeliveryRecord, error) {
	snap := d.settings.Snapshot()

	var (
		rec *media.DeliveryRecord
		err error
	)
	if snap.UploadMode == settings.UploadModeInfo {
		rec, err = d.deliverInfo(ctx, jobID, chatID, desc, artifact)
	} else {
		rec, err = d.deliverDirect(ctx, jobID, chatID, desc, artifact)
	}
	if err != nil {
		if relErr := artifact.Release(); relErr != nil {
			d.logger.WarnContext(ctx, "Failed to release artifact after delivery error",
				"job_id", jobID, "error", relErr)
		}
		return nil, err
	}

	d.scheduleDeletion(rec, snap.AutoDeleteMinutes)
	return rec, nil
}

func (d *Dispatcher) deliverDirect(ctx context.Context, jobID string, chatID int64, desc *media.Descriptor, artifact *media.Artifact) (*media.DeliveryRecord, error) {
	if artifact.Size > maxUploadBytes {
		return nil, media.NewFlowError(media.KindDeliverTooLarge,
			fmt.Errorf("artifact is %d bytes, limit is %d", artifact.Size, maxUploadBytes))
	}

	ref, err := d.transport.SendAudio(ctx, chatID, artifact, desc)
	if err != nil {
		return nil, wrapTransportErr(err)
	}

	// The file is on Telegram's servers now; the local copy is done.
	if relErr := artifact.Release(); relErr != nil {
		d.logger.WarnContext(ctx, "Failed to release artifact after direct delivery",
			"job_id", jobID, "error", relErr)
	}

	d.logger.InfoContext(ctx, "Delivered directly",
		"job_id", jobID, "chat_id", chatID, "message_id", ref.MessageID)

	return &media.DeliveryRecord{
		JobID:       jobID,
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		ModeUsed:    settings.UploadModeDirect,
		DeliveredAt: time.Now(),
	}, nil
}

func (d *Dispatcher) deliverInfo(ctx context.Context, jobID string, chatID int64, desc *media.Descriptor, artifact *media.Artifact) (*media.DeliveryRecord, error) {
	token := uuid.NewString()

	d.mu.Lock()
	d.pending[token] = &pendingFetch{
		jobID:     jobID,
		artifact:  artifact,
		desc:      desc,
		expiresAt: time.Now().Add(d.pendingTTL),
	}
	d.mu.Unlock()

	link := fmt.Sprintf("https://t.me/%s?start=get_%s", d.botUsername, token)
	ref, err := d.transport.SendCard(ctx, chatID, Caption(desc), "Get Song", link)
	if err != nil {
		d.mu.Lock()
		delete(d.pending, token)
		d.mu.Unlock()
		return nil, wrapTransportErr(err)
	}

	d.logger.InfoContext(ctx, "Delivered info card",
		"job_id", jobID, "chat_id", chatID, "message_id", ref.MessageID, "token", token)

	return &media.DeliveryRecord{
		JobID:       jobID,
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		ModeUsed:    settings.UploadModeInfo,
		DeliveredAt: time.Now(),
	}, nil
}

// Redeem handles a deferred-fetch invocation from a private chat. The
// gate is re-run for the invoking user; a denial does not consume the
// pending entry, so the card stays usable until expiry.
func (d *Dispatcher) Redeem(ctx context.Context, userID int64, token string) (RedeemOutcome, error) {
	d.mu.Lock()
	entry, ok := d.pending[token]
	d.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return RedeemExpired, nil
	}

	switch d.gate.Check(ctx, userID) {
	case gate.Yes:
		// fall through to delivery
	case gate.No:
		return RedeemDenied, nil
	default:
		return RedeemUnknown, nil
	}

	ref, err := d.transport.SendAudio(ctx, userID, entry.artifact, entry.desc)
	if err != nil {
		return RedeemDelivered, wrapTransportErr(err)
	}

	d.scheduleDeletion(&media.DeliveryRecord{
		JobID:       entry.jobID,
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		ModeUsed:    settings.UploadModeInfo,
		DeliveredAt: time.Now(),
	}, d.settings.Snapshot().AutoDeleteMinutes)

	d.logger.InfoContext(ctx, "Redeemed deferred fetch",
		"job_id", entry.jobID, "user_id", userID, "token", token)
	return RedeemDelivered, nil
}

// ExpirePending releases pending artifacts whose TTL has passed.
// Registered as a scheduled task.
func (d *Dispatcher) ExpirePending(ctx context.Context) error {
	now := time.Now()

	d.mu.Lock()
	var expired []*pendingFetch
	for token, entry := range d.pending {
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
			delete(d.pending, token)
		}
	}
	d.mu.Unlock()

	for _, entry := range expired {
		if err := entry.artifact.Release(); err != nil {
			d.logger.WarnContext(ctx, "Failed to release expired artifact",
				"job_id", entry.jobID, "error", err)
		}
	}
	if len(expired) > 0 {
		d.logger.InfoContext(ctx, "Expired pending fetches", "count", len(expired))
	}
	return nil
}

// PendingCount reports the number of parked deferred fetches.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// DeletionBacklog reports the number of deliveries awaiting deletion.
func (d *Dispatcher) DeletionBacklog() int {
	return d.sweeper.Pending()
}

func (d *Dispatcher) scheduleDeletion(rec *media.DeliveryRecord, minutes int) {
	if minutes <= 0 {
		return
	}
	rec.DeleteAt = rec.DeliveredAt.Add(time.Duration(minutes) * time.Minute)
	d.sweeper.Schedule(rec)
}

// Caption formats the summary text for a descriptor, used on info
// cards and audio captions.
func Caption(desc *media.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎵 %s", desc.Title)
	if desc.Artist != "" {
		fmt.Fprintf(&b, "\n👤 %s", desc.Artist)
	}
	if desc.Album != "" {
		fmt.Fprintf(&b, "\n💿 %s", desc.Album)
	}
	return b.String()
}

// wrapTransportErr keeps already-classified send errors and folds
// anything else into a generic transport failure.
func wrapTransportErr(err error) error {
	if media.KindOf(err) != "" {
		return err
	}
	return media.NewFlowError(media.KindDeliverTransport, err)
}
