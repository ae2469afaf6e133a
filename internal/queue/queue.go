// Package queue implements the request processing pipeline: it turns
// an inbound request into exactly one delivered artifact or one
// reported failure, serializing per chat when the queue feature is
// enabled.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/media"
	"github.com/tunegrab/tunegrab/internal/settings"
)

// ErrQueueFull rejects a submission when a chat's line is saturated.
var ErrQueueFull = errors.New("request queue is full for this chat")

// ErrNotRunning rejects submissions before Run has started.
var ErrNotRunning = errors.New("request queue is not running")

// ErrUnknownJob is returned by Cancel and Resubmit for expired ids.
var ErrUnknownJob = errors.New("unknown job id")

// lineCapacity bounds one chat's backlog; beyond it submissions are
// rejected instead of buffered without limit.
const lineCapacity = 64

// maxTrackedJobs bounds the retained job registry (used by Cancel and
// the Try Again resubmission affordance).
const maxTrackedJobs = 1024

// Resolver turns request text into a media descriptor.
type Resolver interface {
	Resolve(ctx context.Context, text string) (*media.Descriptor, error)
}

// Gate answers the subscription check.
type Gate interface {
	Check(ctx context.Context, userID int64) gate.Status
}

// Fetcher downloads a descriptor into a local artifact.
type Fetcher interface {
	Fetch(ctx context.Context, desc *media.Descriptor) (*media.Artifact, error)
}

// Dispatcher performs the delivery step.
type Dispatcher interface {
	Deliver(ctx context.Context, jobID string, chatID int64, desc *media.Descriptor, artifact *media.Artifact) (*media.DeliveryRecord, error)
}

// Notifier reports job progress back to the requester.
type Notifier interface {
	JobQueued(ctx context.Context, job *Job, position int)
	JobDelivered(ctx context.Context, job *Job, rec *media.DeliveryRecord)
	JobFailed(ctx context.Context, job *Job, err error)
}

// Queue is the request pipeline entry point.
type Queue struct {
	settings   *settings.Store
	resolver   Resolver
	gate       Gate
	fetcher    Fetcher
	dispatcher Dispatcher
	notifier   Notifier
	logger     *slog.Logger

	retryBackoff  time.Duration
	fetchCooldown time.Duration

	mu        sync.Mutex
	ctx       context.Context
	lines     map[int64]chan *Job
	cooldowns map[int64]time.Time
	jobs      map[string]*Job
	jobOrder  []string

	wg sync.WaitGroup
}

// New creates a Queue. Run must be called before submissions are
// accepted.
func New(
	settingsStore *settings.Store,
	resolver Resolver,
	subGate Gate,
	fetcher Fetcher,
	dispatcher Dispatcher,
	notifier Notifier,
	retryBackoff, fetchCooldown time.Duration,
	logger *slog.Logger,
) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		settings:      settingsStore,
		resolver:      resolver,
		gate:          subGate,
		fetcher:       fetcher,
		dispatcher:    dispatcher,
		notifier:      notifier,
		logger:        logger.With("component", "queue"),
		retryBackoff:  retryBackoff,
		fetchCooldown: fetchCooldown,
		lines:         make(map[int64]chan *Job),
		cooldowns:     make(map[int64]time.Time),
		jobs:          make(map[string]*Job),
	}
}

// Run makes the queue accept submissions until ctx is cancelled, then
// waits for in-flight pipelines to finish.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()

	q.logger.Info("Request queue running")
	<-ctx.Done()

	q.mu.Lock()
	q.ctx = nil
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("Request queue stopped")
	return nil
}

// Submit enqueues a request and returns its job handle without
// blocking. Whether the request runs immediately or joins its chat's
// FIFO line depends on the queue_enabled setting read now.
func (q *Queue) Submit(req Request) (*Job, error) {
	job := newJob(req)

	q.mu.Lock()
	ctx := q.ctx
	if ctx == nil {
		q.mu.Unlock()
		return nil, ErrNotRunning
	}
	q.track(job)

	if !q.settings.Snapshot().QueueEnabled {
		q.mu.Unlock()
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.process(ctx, job)
		}()
		return job, nil
	}

	line := q.lines[req.ChatID]
	if line == nil {
		line = make(chan *Job, lineCapacity)
		q.lines[req.ChatID] = line
		q.wg.Add(1)
		go q.runLine(ctx, req.ChatID, line)
	}
	position := len(line)
	q.mu.Unlock()

	select {
	case line <- job:
	default:
		job.setStatus(StatusCancelled)
		return nil, ErrQueueFull
	}

	if position > 0 {
		q.notifier.JobQueued(ctx, job, position)
	}
	return job, nil
}

// Cancel requests best-effort cancellation of a job. A job that has
// not started executing is cancelled outright; a job inside an
// external call finishes that call, then discards its result.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	q.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}

	job.markCancelled()
	if job.Status() == StatusPending {
		job.setStatus(StatusCancelled)
	}
	q.logger.Info("Job cancellation requested", "job_id", jobID, "status", job.Status())
	return nil
}

// Resubmit enqueues a fresh job carrying the raw text of a previously
// failed job. Backs the Try Again affordance on gate denials.
func (q *Queue) Resubmit(jobID string) (*Job, error) {
	q.mu.Lock()
	prev, ok := q.jobs[jobID]
	q.mu.Unlock()
	if !ok {
		return nil, ErrUnknownJob
	}
	if prev.Status() != StatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be resubmitted", jobID, prev.Status())
	}
	return q.Submit(Request{ChatID: prev.ChatID, RequesterID: prev.RequesterID, Text: prev.Text})
}

// track registers the job, pruning the oldest terminal jobs beyond the
// registry bound. Callers hold q.mu.
func (q *Queue) track(job *Job) {
	q.jobs[job.ID] = job
	q.jobOrder = append(q.jobOrder, job.ID)
	for len(q.jobOrder) > maxTrackedJobs {
		oldest := q.jobOrder[0]
		if old, ok := q.jobs[oldest]; ok && !old.Status().Terminal() {
			break
		}
		delete(q.jobs, oldest)
		q.jobOrder = q.jobOrder[1:]
	}
}

// runLine is the single worker for one chat's FIFO line.
func (q *Queue) runLine(ctx context.Context, chatID int64, line chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-line:
			q.process(ctx, job)
		}
	}
}

// process executes the full pipeline for one job. Every return path
// leaves the job in a terminal status.
func (q *Queue) process(ctx context.Context, job *Job) {
	log := q.logger.With("job_id", job.ID, "chat_id", job.ChatID)

	if job.isCancelled() {
		job.setStatus(StatusCancelled)
		log.Info("Job cancelled before start")
		return
	}

	// Resolve, with one retry on transient failure.
	job.setStatus(StatusResolving)
	desc, err := q.resolveWithRetry(ctx, job)
	if err != nil {
		q.fail(ctx, job, err)
		return
	}
	if job.isCancelled() {
		job.setStatus(StatusCancelled)
		return
	}

	// Gate. Unknown is a distinct failure, never an implicit pass.
	job.setStatus(StatusGating)
	switch q.gate.Check(ctx, job.RequesterID) {
	case gate.Yes:
	case gate.No:
		q.fail(ctx, job, media.NewFlowError(media.KindGateDenied, nil))
		return
	default:
		q.fail(ctx, job, media.NewFlowError(media.KindGateUnknown, nil))
		return
	}
	if job.isCancelled() {
		job.setStatus(StatusCancelled)
		return
	}

	// Fetch, honoring the chat cool-down and retrying one timeout.
	if until, cooling := q.coolingDown(job.ChatID); cooling {
		q.fail(ctx, job, media.NewFlowError(media.KindFetchQuota,
			fmt.Errorf("chat in cool-down until %s", until.Format(time.RFC3339))))
		return
	}
	job.setStatus(StatusFetching)
	artifact, err := q.fetchWithRetry(ctx, job, desc)
	if err != nil {
		if media.KindOf(err) == media.KindFetchQuota {
			q.armCooldown(job.ChatID)
		}
		q.fail(ctx, job, err)
		return
	}
	if job.isCancelled() {
		if relErr := artifact.Release(); relErr != nil {
			log.Warn("Failed to release artifact of cancelled job", "error", relErr)
		}
		job.setStatus(StatusCancelled)
		log.Info("Job cancelled after fetch, result discarded")
		return
	}

	// Deliver. Mode and delete delay are the dispatcher's concern and
	// are read there, at delivery time.
	job.setStatus(StatusDelivering)
	rec, err := q.dispatcher.Deliver(ctx, job.ID, job.ChatID, desc, artifact)
	if err != nil {
		q.fail(ctx, job, err)
		return
	}

	job.setStatus(StatusDelivered)
	q.notifier.JobDelivered(ctx, job, rec)
	log.Info("Job delivered", "mode", rec.ModeUsed, "message_id", rec.MessageID)
}

func (q *Queue) resolveWithRetry(ctx context.Context, job *Job) (*media.Descriptor, error) {
	desc, err := q.resolver.Resolve(ctx, job.Text)
	if err == nil || !media.KindOf(err).Retryable() {
		return desc, err
	}

	q.logger.Info("Transient resolve failure, retrying once",
		"job_id", job.ID, "error", err)
	if !q.sleep(ctx, q.retryBackoff) {
		return nil, err
	}
	return q.resolver.Resolve(ctx, job.Text)
}

func (q *Queue) fetchWithRetry(ctx context.Context, job *Job, desc *media.Descriptor) (*media.Artifact, error) {
	artifact, err := q.fetcher.Fetch(ctx, desc)
	if err == nil || !media.KindOf(err).Retryable() {
		return artifact, err
	}

	q.logger.Info("Transient fetch failure, retrying once",
		"job_id", job.ID, "error", err)
	if !q.sleep(ctx, q.retryBackoff) {
		return nil, err
	}
	return q.fetcher.Fetch(ctx, desc)
}

// fail moves the job to Failed and reports the reason to the
// requester. Failures never stall the chat's line.
func (q *Queue) fail(ctx context.Context, job *Job, err error) {
	if !job.setStatus(StatusFailed) {
		return
	}
	q.logger.Warn("Job failed",
		"job_id", job.ID, "chat_id", job.ChatID,
		"kind", string(media.KindOf(err)), "error", err)
	q.notifier.JobFailed(ctx, job, err)
}

func (q *Queue) coolingDown(chatID int64) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	until, ok := q.cooldowns[chatID]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		delete(q.cooldowns, chatID)
		return time.Time{}, false
	}
	return until, true
}

func (q *Queue) armCooldown(chatID int64) {
	until := time.Now().Add(q.fetchCooldown)
	q.mu.Lock()
	q.cooldowns[chatID] = until
	q.mu.Unlock()
	q.logger.Info("Chat cool-down armed", "chat_id", chatID, "until", until)
}

// sleep waits for d or until ctx is done; reports whether the full
// wait elapsed.
func (q *Queue) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
