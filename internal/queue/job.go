package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a job's position in its lifecycle. Delivered, Failed, and
// Cancelled are terminal; every job reaches exactly one of them.
type Status string

const (
	StatusPending    Status = "pending"
	StatusResolving  Status = "resolving"
	StatusGating     Status = "gating"
	StatusFetching   Status = "fetching"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusCancelled
}

// Request is one inbound media request.
type Request struct {
	ChatID      int64
	RequesterID int64
	Text        string
}

// Job is one request's lifecycle record through the pipeline. It is
// owned exclusively by the queue until it reaches a terminal status.
type Job struct {
	ID          string
	ChatID      int64
	RequesterID int64
	Text        string
	SubmittedAt time.Time

	mu        sync.Mutex
	status    Status
	cancelled bool
	done      chan struct{}
}

func newJob(req Request) *Job {
	return &Job{
		ID:          uuid.NewString(),
		ChatID:      req.ChatID,
		RequesterID: req.RequesterID,
		Text:        req.Text,
		SubmittedAt: time.Now(),
		status:      StatusPending,
		done:        make(chan struct{}),
	}
}

// Status returns the job's current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// setStatus advances the job. Transitions away from a terminal status
// are ignored, which is what guarantees at-most-one terminal outcome.
func (j *Job) setStatus(s Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = s
	if s.Terminal() {
		close(j.done)
	}
	return true
}

// markCancelled requests cancellation. The pipeline observes the flag
// between stages; an in-flight external call is not interrupted but
// its result is discarded on return.
func (j *Job) markCancelled() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = true
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}
