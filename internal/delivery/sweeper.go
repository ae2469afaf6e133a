package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tunegrab/tunegrab/internal/media"
)

// Sweeper tracks delivery records scheduled for deletion and removes
// the underlying messages once their delete_at passes. Deletion is a
// courtesy cleanup: failures are logged and the record is discarded
// either way, never retried.
type Sweeper struct {
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	records map[string]*media.DeliveryRecord
}

// NewSweeper creates a Sweeper.
func NewSweeper(transport Transport, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		transport: transport,
		logger:    logger.With("component", "sweeper"),
		records:   make(map[string]*media.DeliveryRecord),
	}
}

// Schedule registers a record for deletion at its DeleteAt time.
// Records without a DeleteAt are ignored. A record keeps its original
// delete_at even if the delay setting changes afterwards.
func (s *Sweeper) Schedule(rec *media.DeliveryRecord) {
	if rec == nil || !rec.HasDeleteAt() {
		return
	}
	s.mu.Lock()
	s.records[uuid.NewString()] = rec
	s.mu.Unlock()

	s.logger.Debug("Deletion scheduled",
		"job_id", rec.JobID, "chat_id", rec.ChatID,
		"message_id", rec.MessageID, "delete_at", rec.DeleteAt)
}

// Cancel drops every scheduled deletion belonging to jobID.
func (s *Sweeper) Cancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.JobID == jobID {
			delete(s.records, id)
		}
	}
}

// Pending reports the number of records awaiting deletion.
func (s *Sweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep deletes every due message. Registered as a scheduled task with
// coarse (seconds) granularity.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now()

	s.mu.Lock()
	var due []*media.DeliveryRecord
	for id, rec := range s.records {
		if !rec.DeleteAt.After(now) {
			due = append(due, rec)
			delete(s.records, id)
		}
	}
	s.mu.Unlock()

	for _, rec := range due {
		ref := MessageRef{ChatID: rec.ChatID, MessageID: rec.MessageID}
		if err := s.transport.DeleteMessage(ctx, ref); err != nil {
			s.logger.WarnContext(ctx, "Best-effort message deletion failed",
				"job_id", rec.JobID, "chat_id", rec.ChatID,
				"message_id", rec.MessageID, "error", err)
			continue
		}
		s.logger.DebugContext(ctx, "Deleted delivered message",
			"job_id", rec.JobID, "chat_id", rec.ChatID, "message_id", rec.MessageID)
	}
	return nil
}
