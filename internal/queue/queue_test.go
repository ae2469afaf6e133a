package queue_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/media"
	"github.com/tunegrab/tunegrab/internal/queue"
	"github.com/tunegrab/tunegrab/internal/settings"
)

// memStore is an in-memory database.Store for tests.
type memStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemStore() *memStore {
	return &memStore{vals: make(map[string]string)}
}

func (m *memStore) Ping(context.Context) error                  { return nil }
func (m *memStore) AddUser(context.Context, int64) error        { return nil }
func (m *memStore) CountUsers(context.Context) (int64, error)   { return 0, nil }
func (m *memStore) AllUserIDs(context.Context) ([]int64, error) { return nil, nil }
func (m *memStore) RunSQLMaintenance(context.Context) error     { return nil }

func (m *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *memStore) SeedSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; !ok {
		m.vals[key] = value
	}
	return nil
}

type stubResolver struct {
	mu      sync.Mutex
	calls   []string
	resolve func(call int, text string) (*media.Descriptor, error)
}

func (s *stubResolver) Resolve(_ context.Context, text string) (*media.Descriptor, error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	if s.resolve != nil {
		return s.resolve(call, text)
	}
	return &media.Descriptor{Title: text}, nil
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubResolver) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubResolver) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

type stubGate struct {
	mu     sync.Mutex
	status gate.Status
}

func (s *stubGate) Check(context.Context, int64) gate.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubGate) set(st gate.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	dir   string
	fetch func(call int) (*media.Artifact, error)
}

func (s *stubFetcher) Fetch(_ context.Context, _ *media.Descriptor) (*media.Artifact, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	if s.fetch != nil {
		return s.fetch(call)
	}
	return s.artifact()
}

// artifact writes a real temp file so Release has something to remove.
func (s *stubFetcher) artifact() (*media.Artifact, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("track-%d.mp3", time.Now().UnixNano()))
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		return nil, err
	}
	return &media.Artifact{LocalRef: path, Size: 5, MIME: "audio/mpeg"}, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubFetcher) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
}

type stubDispatcher struct {
	mu      sync.Mutex
	calls   int
	deliver func(jobID string, chatID int64, artifact *media.Artifact) (*media.DeliveryRecord, error)
}

func (s *stubDispatcher) Deliver(_ context.Context, jobID string, chatID int64, _ *media.Descriptor, artifact *media.Artifact) (*media.DeliveryRecord, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.deliver != nil {
		return s.deliver(jobID, chatID, artifact)
	}
	_ = artifact.Release()
	return &media.DeliveryRecord{JobID: jobID, ChatID: chatID, MessageID: 1, ModeUsed: settings.UploadModeDirect, DeliveredAt: time.Now()}, nil
}

func (s *stubDispatcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubDispatcher) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
}

type recNotifier struct {
	mu        sync.Mutex
	queued    []int
	delivered []string
	failed    map[string]error
}

func newRecNotifier() *recNotifier {
	return &recNotifier{failed: make(map[string]error)}
}

func (n *recNotifier) JobQueued(_ context.Context, _ *queue.Job, position int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queued = append(n.queued, position)
}

func (n *recNotifier) JobDelivered(_ context.Context, job *queue.Job, _ *media.DeliveryRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, job.ID)
}

func (n *recNotifier) JobFailed(_ context.Context, job *queue.Job, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[job.ID] = err
}

func (n *recNotifier) failureOf(jobID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed[jobID]
}

// env bundles a running queue with its collaborator stubs.
type env struct {
	queue      *queue.Queue
	settings   *settings.Store
	resolver   *stubResolver
	gate       *stubGate
	fetcher    *stubFetcher
	dispatcher *stubDispatcher
	notifier   *recNotifier
}

func newEnv(t *testing.T, queueEnabled bool) *env {
	t.Helper()

	st, err := settings.NewStore(context.Background(), newMemStore(), config.SettingDefaults{
		UploadMode:        settings.UploadModeDirect,
		QueueEnabled:      queueEnabled,
		AutoDeleteMinutes: 0,
	}, nil)
	if err != nil {
		t.Fatalf("settings.NewStore: %v", err)
	}

	e := &env{
		settings:   st,
		resolver:   &stubResolver{},
		gate:       &stubGate{status: gate.Yes},
		fetcher:    &stubFetcher{dir: t.TempDir()},
		dispatcher: &stubDispatcher{},
		notifier:   newRecNotifier(),
	}
	e.queue = queue.New(st, e.resolver, e.gate, e.fetcher, e.dispatcher, e.notifier,
		time.Millisecond, 200*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.queue.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Run stores its context before blocking; probe with a throwaway
	// job on a chat no test uses, then reset the stub counters.
	deadline := time.Now().Add(time.Second)
	var probe *queue.Job
	for {
		job, err := e.queue.Submit(queue.Request{ChatID: -1, RequesterID: -1, Text: "probe"})
		if err == nil {
			probe = job
			break
		}
		if !errors.Is(err, queue.ErrNotRunning) {
			t.Fatalf("probe submit: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("queue never started accepting submissions")
		}
		time.Sleep(time.Millisecond)
	}
	waitTerminal(t, probe)
	e.resolver.reset()
	e.fetcher.reset()
	e.dispatcher.reset()

	return e
}

func waitTerminal(t *testing.T, job *queue.Job) queue.Status {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s never reached a terminal status (now %s)", job.ID, job.Status())
	}
	return job.Status()
}

func TestQueue_SubmitBeforeRun(t *testing.T) {
	t.Parallel()

	st, err := settings.NewStore(context.Background(), newMemStore(), config.SettingDefaults{
		UploadMode: settings.UploadModeDirect,
	}, nil)
	if err != nil {
		t.Fatalf("settings.NewStore: %v", err)
	}
	q := queue.New(st, &stubResolver{}, &stubGate{status: gate.Yes}, &stubFetcher{}, &stubDispatcher{}, newRecNotifier(),
		time.Millisecond, time.Second, nil)

	if _, err := q.Submit(queue.Request{ChatID: 1, Text: "song"}); !errors.Is(err, queue.ErrNotRunning) {
		t.Fatalf("Submit before Run: got %v, want ErrNotRunning", err)
	}
}

func TestQueue_DeliversJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	job, err := e.queue.Submit(queue.Request{ChatID: 10, RequesterID: 20, Text: "never gonna give you up"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := waitTerminal(t, job); got != queue.StatusDelivered {
		t.Fatalf("status = %s, want %s", got, queue.StatusDelivered)
	}
	if e.dispatcher.callCount() != 1 {
		t.Fatalf("dispatcher calls = %d, want 1", e.dispatcher.callCount())
	}
}

func TestQueue_TerminalFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prepare  func(e *env)
		wantKind media.Kind
	}{
		{
			name: "resolve not found",
			prepare: func(e *env) {
				e.resolver.resolve = func(int, string) (*media.Descriptor, error) {
					return nil, media.NewFlowError(media.KindResolveNotFound, errors.New("nothing"))
				}
			},
			wantKind: media.KindResolveNotFound,
		},
		{
			name: "gate denied",
			prepare: func(e *env) {
				e.gate.set(gate.No)
			},
			wantKind: media.KindGateDenied,
		},
		{
			name: "gate unknown is a failure not a pass",
			prepare: func(e *env) {
				e.gate.set(gate.Unknown)
			},
			wantKind: media.KindGateUnknown,
		},
		{
			name: "fetch unavailable",
			prepare: func(e *env) {
				e.fetcher.fetch = func(int) (*media.Artifact, error) {
					return nil, media.NewFlowError(media.KindFetchUnavailable, errors.New("gone"))
				}
			},
			wantKind: media.KindFetchUnavailable,
		},
		{
			name: "delivery too large",
			prepare: func(e *env) {
				e.dispatcher.deliver = func(string, int64, *media.Artifact) (*media.DeliveryRecord, error) {
					return nil, media.NewFlowError(media.KindDeliverTooLarge, errors.New("49MB+"))
				}
			},
			wantKind: media.KindDeliverTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, false)
			tt.prepare(e)

			job, err := e.queue.Submit(queue.Request{ChatID: 1, RequesterID: 2, Text: "song"})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got := waitTerminal(t, job); got != queue.StatusFailed {
				t.Fatalf("status = %s, want %s", got, queue.StatusFailed)
			}
			if got := media.KindOf(e.notifier.failureOf(job.ID)); got != tt.wantKind {
				t.Fatalf("failure kind = %s, want %s", got, tt.wantKind)
			}
		})
	}
}

func TestQueue_PerChatFIFO(t *testing.T) {
	t.Parallel()

	e := newEnv(t, true)

	release := make(chan struct{})
	var once sync.Once
	e.resolver.resolve = func(call int, text string) (*media.Descriptor, error) {
		// Park the first job until every submission is in its line.
		once.Do(func() { <-release })
		return &media.Descriptor{Title: text}, nil
	}

	var jobs []*queue.Job
	for _, text := range []string{"first", "second", "third"} {
		job, err := e.queue.Submit(queue.Request{ChatID: 7, RequesterID: 1, Text: text})
		if err != nil {
			t.Fatalf("Submit(%q): %v", text, err)
		}
		jobs = append(jobs, job)
	}
	close(release)

	for _, job := range jobs {
		if got := waitTerminal(t, job); got != queue.StatusDelivered {
			t.Fatalf("job %q status = %s, want delivered", job.Text, got)
		}
	}

	want := []string{"first", "second", "third"}
	got := e.resolver.seen()
	if len(got) != len(want) {
		t.Fatalf("resolved %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resolve order = %v, want %v", got, want)
		}
	}
}

func TestQueue_RetryOnceOnTransient(t *testing.T) {
	t.Parallel()

	t.Run("resolve transient succeeds on retry", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, false)
		e.resolver.resolve = func(call int, text string) (*media.Descriptor, error) {
			if call == 0 {
				return nil, media.NewFlowError(media.KindResolveTransient, errors.New("flaky"))
			}
			return &media.Descriptor{Title: text}, nil
		}

		job, err := e.queue.Submit(queue.Request{ChatID: 1, RequesterID: 2, Text: "song"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if got := waitTerminal(t, job); got != queue.StatusDelivered {
			t.Fatalf("status = %s, want delivered", got)
		}
		if e.resolver.callCount() != 2 {
			t.Fatalf("resolver calls = %d, want 2", e.resolver.callCount())
		}
	})

	t.Run("second transient failure is final", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, false)
		e.resolver.resolve = func(int, string) (*media.Descriptor, error) {
			return nil, media.NewFlowError(media.KindResolveTransient, errors.New("still flaky"))
		}

		job, err := e.queue.Submit(queue.Request{ChatID: 1, RequesterID: 2, Text: "song"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if got := waitTerminal(t, job); got != queue.StatusFailed {
			t.Fatalf("status = %s, want failed", got)
		}
		if e.resolver.callCount() != 2 {
			t.Fatalf("resolver calls = %d, want 2", e.resolver.callCount())
		}
	})

	t.Run("not found is never retried", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, false)
		e.resolver.resolve = func(int, string) (*media.Descriptor, error) {
			return nil, media.NewFlowError(media.KindResolveNotFound, errors.New("nope"))
		}

		job, err := e.queue.Submit(queue.Request{ChatID: 1, RequesterID: 2, Text: "song"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		waitTerminal(t, job)
		if e.resolver.callCount() != 1 {
			t.Fatalf("resolver calls = %d, want 1", e.resolver.callCount())
		}
	})
}

func TestQueue_QuotaArmsCooldown(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	e.fetcher.fetch = func(int) (*media.Artifact, error) {
		return nil, media.NewFlowError(media.KindFetchQuota, errors.New("429"))
	}

	first, err := e.queue.Submit(queue.Request{ChatID: 5, RequesterID: 2, Text: "one"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, first)
	if got := media.KindOf(e.notifier.failureOf(first.ID)); got != media.KindFetchQuota {
		t.Fatalf("first failure kind = %s, want %s", got, media.KindFetchQuota)
	}

	// The chat is cooling down: the next job fails the same way without
	// reaching the fetcher.
	before := e.fetcher.callCount()
	second, err := e.queue.Submit(queue.Request{ChatID: 5, RequesterID: 2, Text: "two"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, second)
	if got := media.KindOf(e.notifier.failureOf(second.ID)); got != media.KindFetchQuota {
		t.Fatalf("second failure kind = %s, want %s", got, media.KindFetchQuota)
	}
	if e.fetcher.callCount() != before {
		t.Fatalf("fetcher called during cool-down: %d -> %d", before, e.fetcher.callCount())
	}

	// Another chat is unaffected.
	e.fetcher.fetch = nil
	other, err := e.queue.Submit(queue.Request{ChatID: 6, RequesterID: 2, Text: "three"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := waitTerminal(t, other); got != queue.StatusDelivered {
		t.Fatalf("other chat status = %s, want delivered", got)
	}

	// The window expires.
	time.Sleep(250 * time.Millisecond)
	after, err := e.queue.Submit(queue.Request{ChatID: 5, RequesterID: 2, Text: "four"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := waitTerminal(t, after); got != queue.StatusDelivered {
		t.Fatalf("post-cooldown status = %s, want delivered", got)
	}
}

func TestQueue_CancelPendingJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t, true)

	release := make(chan struct{})
	var once sync.Once
	e.resolver.resolve = func(call int, text string) (*media.Descriptor, error) {
		once.Do(func() { <-release })
		return &media.Descriptor{Title: text}, nil
	}

	blocker, err := e.queue.Submit(queue.Request{ChatID: 3, RequesterID: 1, Text: "blocker"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	victim, err := e.queue.Submit(queue.Request{ChatID: 3, RequesterID: 1, Text: "victim"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := e.queue.Cancel(victim.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	if got := waitTerminal(t, blocker); got != queue.StatusDelivered {
		t.Fatalf("blocker status = %s, want delivered", got)
	}
	if got := waitTerminal(t, victim); got != queue.StatusCancelled {
		t.Fatalf("victim status = %s, want cancelled", got)
	}
	for _, text := range e.resolver.seen() {
		if text == "victim" {
			t.Fatal("cancelled job still reached the resolver")
		}
	}

	if err := e.queue.Cancel("no-such-job"); !errors.Is(err, queue.ErrUnknownJob) {
		t.Fatalf("Cancel unknown: got %v, want ErrUnknownJob", err)
	}
}

func TestQueue_Resubmit(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	e.gate.set(gate.No)

	job, err := e.queue.Submit(queue.Request{ChatID: 9, RequesterID: 4, Text: "blocked song"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := waitTerminal(t, job); got != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}

	// The user joined the channel; Try Again replays the raw text.
	e.gate.set(gate.Yes)
	retry, err := e.queue.Resubmit(job.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if retry.Text != job.Text || retry.ChatID != job.ChatID {
		t.Fatalf("resubmitted job = %+v, want same text and chat as %+v", retry, job)
	}
	if got := waitTerminal(t, retry); got != queue.StatusDelivered {
		t.Fatalf("retry status = %s, want delivered", got)
	}

	// Delivered jobs cannot be resubmitted.
	if _, err := e.queue.Resubmit(retry.ID); err == nil {
		t.Fatal("Resubmit of a delivered job succeeded")
	}
	if _, err := e.queue.Resubmit("no-such-job"); !errors.Is(err, queue.ErrUnknownJob) {
		t.Fatalf("Resubmit unknown: got %v, want ErrUnknownJob", err)
	}
}

func TestQueue_QueueDisabledRunsConcurrently(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)

	// Two jobs in the same chat block in the resolver at the same time,
	// which a FIFO line would never allow.
	var mu sync.Mutex
	inFlight, peak := 0, 0
	e.resolver.resolve = func(call int, text string) (*media.Descriptor, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &media.Descriptor{Title: text}, nil
	}

	a, err := e.queue.Submit(queue.Request{ChatID: 2, RequesterID: 1, Text: "a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b, err := e.queue.Submit(queue.Request{ChatID: 2, RequesterID: 1, Text: "b"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, a)
	waitTerminal(t, b)

	mu.Lock()
	defer mu.Unlock()
	if peak < 2 {
		t.Fatalf("peak concurrency = %d, want >= 2 with the queue disabled", peak)
	}
}
