// Package media defines the data types that flow through the request
// pipeline: the descriptor a resolver produces, the artifact a fetcher
// downloads, and the record a delivery leaves behind.
package media

import (
	"os"
	"path/filepath"
	"time"
)

// Descriptor identifies a resolved track. It is immutable once produced
// by the resolver and owned by the job that requested it.
type Descriptor struct {
	Title     string
	Artist    string
	Album     string
	Duration  time.Duration
	SourceRef string // canonical URL the fetcher downloads from
}

// Artifact is a downloaded track on local disk. Ownership transfers to
// the delivery dispatcher, which is responsible for eventual release.
type Artifact struct {
	LocalRef string // path to the audio file
	Size     int64
	MIME     string
}

// Release removes the artifact file from disk, along with its fetch
// directory when that leaves it empty.
func (a *Artifact) Release() error {
	if a.LocalRef == "" {
		return nil
	}
	if err := os.Remove(a.LocalRef); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Best effort: the fetch dir only disappears if nothing else is in it.
	_ = os.Remove(filepath.Dir(a.LocalRef))
	return nil
}

// DeliveryRecord describes one successful send. DeleteAt is zero unless
// auto-deletion was enabled at delivery time.
type DeliveryRecord struct {
	JobID       string
	ChatID      int64
	MessageID   int
	ModeUsed    string
	DeliveredAt time.Time
	DeleteAt    time.Time
}

// HasDeleteAt reports whether the record is scheduled for deletion.
func (r *DeliveryRecord) HasDeleteAt() bool {
	return !r.DeleteAt.IsZero()
}
