// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/credential"
	"github.com/bureau-foundation/beacon/lib/location"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/retry"
	"github.com/bureau-foundation/beacon/lib/statefile"
	"github.com/bureau-foundation/beacon/lib/transport"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var enrolled = credential.Credentials{DeviceID: "A1", Phone: "+100", Token: "T"}

// pushSource forwards samples the test writes to feed.
type pushSource struct {
	checkErr error
	feed     chan location.Sample
}

func newPushSource() *pushSource {
	return &pushSource{feed: make(chan location.Sample)}
}

func (p *pushSource) Check(context.Context) error { return p.checkErr }

func (p *pushSource) Subscribe(ctx context.Context, _ location.Cadence) (<-chan location.Sample, error) {
	out := make(chan location.Sample)
	go func() {
		defer close(out)
		for {
			select {
			case sample := <-p.feed:
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type memoryStore struct {
	mu          sync.Mutex
	credentials credential.Credentials
	enrolled    bool
}

func (m *memoryStore) Get() (credential.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enrolled {
		return credential.Credentials{}, credential.ErrNoCredentials
	}
	return m.credentials, nil
}

func (m *memoryStore) Set(credentials credential.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials, m.enrolled = credentials, true
	return nil
}

// recordingSender accepts everything and records what it was sent.
type recordingSender struct {
	mu       sync.Mutex
	requests []transport.Request
	called   chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{called: make(chan struct{}, 64)}
}

func (r *recordingSender) Send(_ context.Context, request transport.Request) (transport.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, request)
	r.mu.Unlock()
	r.called <- struct{}{}
	return transport.Response{StatusCode: 200}, nil
}

func (r *recordingSender) waitForCalls(t *testing.T, count int) {
	t.Helper()
	for range count {
		select {
		case <-r.called:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for a delivery attempt")
		}
	}
}

func (r *recordingSender) body(index int) transport.LocationUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[index].Body.(transport.LocationUpdate)
}

type harness struct {
	directory string
	statePath string
	queue     *queue.Queue
	clock     *clock.FakeClock
	source    *pushSource
	store     *memoryStore
	sender    transport.Sender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	directory := t.TempDir()
	fake := clock.Fake(epoch)
	q, err := queue.Open(queue.Config{
		Path:      filepath.Join(directory, "queue.db"),
		Scheduler: retry.Policy{BaseDelay: 15 * time.Second, MaxDelay: time.Hour, MaxAttempts: 10},
		Clock:     fake,
	})
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	return &harness{
		directory: directory,
		statePath: filepath.Join(directory, "state"),
		queue:     q,
		clock:     fake,
		source:    newPushSource(),
		store:     &memoryStore{credentials: enrolled, enrolled: true},
		sender:    newRecordingSender(),
	}
}

func (h *harness) config() Config {
	return Config{
		StatePath:   h.statePath,
		Queue:       h.queue,
		Source:      h.source,
		Credentials: h.store,
		Sender:      h.sender,
		URL:         "https://track.example.com/api/location_update",
		Cadence:     location.Cadence{Min: 30 * time.Second, Target: time.Minute},
		SendTimeout: 10 * time.Second,
		Clock:       h.clock,
	}
}

func (h *harness) newSupervisor(t *testing.T, modify func(*Config)) *Supervisor {
	t.Helper()
	cfg := h.config()
	if modify != nil {
		modify(&cfg)
	}
	supervisor, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return supervisor
}

func (h *harness) savedState(t *testing.T) (persistedState, bool) {
	t.Helper()
	var stored persistedState
	err := statefile.Read(h.statePath, &stored)
	if errors.Is(err, os.ErrNotExist) {
		return persistedState{}, false
	}
	if err != nil {
		t.Fatalf("reading saved state: %v", err)
	}
	return stored, true
}

func (h *harness) feed(t *testing.T, lat, lng float64) {
	t.Helper()
	select {
	case h.source.feed <- location.Sample{Lat: lat, Lng: lng, CapturedAt: h.clock.Now()}:
	case <-time.After(10 * time.Second):
		t.Fatal("sampling loop is not reading")
	}
}

func eventually(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(time.Millisecond)
	}
}

func status(t *testing.T, supervisor *Supervisor) Status {
	t.Helper()
	current, err := supervisor.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return current
}

func TestStartSamplesAndDelivers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t)
	sender := h.sender.(*recordingSender)
	supervisor := h.newSupervisor(t, nil)

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if supervisor.State() != Active {
		t.Fatalf("State = %s, want active", supervisor.State())
	}
	if stored, ok := h.savedState(t); !ok || !stored.Active {
		t.Fatalf("saved state = %+v (present %v), want active", stored, ok)
	}

	h.feed(t, 1.5, 2.5)
	sender.waitForCalls(t, 1)

	body := sender.body(0)
	if body.IMEI != "A1" || body.Phone != "+100" || body.Token != "T" || body.Lat != 1.5 || body.Lng != 2.5 {
		t.Errorf("delivered body = %+v", body)
	}
	if !body.CapturedAt.Equal(epoch) {
		t.Errorf("captured_at = %v, want %v", body.CapturedAt, epoch)
	}

	eventually(t, "delivery to be recorded", func() bool {
		return status(t, supervisor).Delivery.Delivered == 1
	})

	if err := supervisor.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if supervisor.State() != Inactive {
		t.Errorf("State after Stop = %s", supervisor.State())
	}
	if stored, _ := h.savedState(t); stored.Active {
		t.Error("saved state still active after Stop")
	}
}

func TestCredentialsAreSnapshotAtEnqueue(t *testing.T) {
	h := newHarness(t)
	// Every attempt fails, so the job stays queued behind its backoff.
	supervisor := h.newSupervisor(t, func(cfg *Config) { cfg.Sender = unavailableSender{} })
	defer supervisor.Stop()

	ctx := context.Background()
	if err := supervisor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.feed(t, 1, 1)
	eventually(t, "sample to be accepted", func() bool { return status(t, supervisor).SamplesAccepted == 1 })

	rotated := enrolled
	rotated.Token = "T2"
	h.store.Set(rotated)

	jobs, err := h.queue.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Payload.Token != "T" {
		t.Fatalf("queued jobs = %+v, want one job with the original token", jobs)
	}
}

type unavailableSender struct{}

func (unavailableSender) Send(context.Context, transport.Request) (transport.Response, error) {
	return transport.Response{StatusCode: 503, Detail: "maintenance"}, nil
}

func TestSamplesSoonerThanMinimumAreDropped(t *testing.T) {
	h := newHarness(t)
	supervisor := h.newSupervisor(t, nil)
	defer supervisor.Stop()

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.feed(t, 1, 1)
	eventually(t, "first sample", func() bool { return status(t, supervisor).SamplesAccepted == 1 })

	h.clock.Advance(10 * time.Second)
	h.feed(t, 2, 2)
	eventually(t, "early sample to be throttled", func() bool { return status(t, supervisor).SamplesThrottled == 1 })

	h.clock.Advance(20 * time.Second)
	h.feed(t, 3, 3)
	eventually(t, "second accepted sample", func() bool { return status(t, supervisor).SamplesAccepted == 2 })
}

func TestStartPreconditions(t *testing.T) {
	t.Run("source unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.source.checkErr = location.ErrUnavailable
		supervisor := h.newSupervisor(t, nil)

		err := supervisor.Start(context.Background())
		var precondition *PreconditionError
		if !errors.As(err, &precondition) || precondition.Reason != "location source" {
			t.Fatalf("Start error = %v, want location source precondition", err)
		}
		if !errors.Is(err, location.ErrUnavailable) {
			t.Errorf("error does not wrap the cause: %v", err)
		}
		if supervisor.State() != Inactive {
			t.Errorf("State = %s, want inactive", supervisor.State())
		}
		if _, ok := h.savedState(t); ok {
			t.Error("state saved despite failed precondition")
		}
	})

	t.Run("not enrolled", func(t *testing.T) {
		h := newHarness(t)
		h.store.enrolled = false
		supervisor := h.newSupervisor(t, nil)

		err := supervisor.Start(context.Background())
		var precondition *PreconditionError
		if !errors.As(err, &precondition) || !errors.Is(err, credential.ErrNoCredentials) {
			t.Fatalf("Start error = %v, want credentials precondition", err)
		}
		if supervisor.State() != Inactive {
			t.Errorf("State = %s, want inactive", supervisor.State())
		}
	})
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	supervisor := h.newSupervisor(t, nil)
	defer supervisor.Stop()

	for range 3 {
		if err := supervisor.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if got := status(t, supervisor); got.State != "active" || !got.Since.Equal(epoch) {
		t.Errorf("Status = %+v", got)
	}
}

func TestResumeAfterCrash(t *testing.T) {
	h := newHarness(t)
	sender := h.sender.(*recordingSender)
	ctx := context.Background()

	// What a killed process leaves behind: Active on disk, two Pending
	// jobs and one stuck InFlight.
	for range 3 {
		if _, err := h.queue.Enqueue(ctx, queue.Payload{DeviceID: "A1", Phone: "+100", Token: "T", CapturedAt: epoch}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	<-h.queue.Notify()
	if _, ok, err := h.queue.DequeueReady(ctx, epoch); err != nil || !ok {
		t.Fatalf("DequeueReady = (ok=%v, err=%v)", ok, err)
	}
	if err := statefile.Write(h.statePath, persistedState{Active: true, Since: epoch.Add(-time.Hour)}); err != nil {
		t.Fatalf("writing saved state: %v", err)
	}

	supervisor := h.newSupervisor(t, nil)
	defer supervisor.Stop()
	if err := supervisor.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if supervisor.State() != Active {
		t.Fatalf("State after Resume = %s, want active", supervisor.State())
	}

	sender.waitForCalls(t, 3)
	eventually(t, "queue to drain", func() bool {
		n, err := h.queue.Len(ctx)
		return err == nil && n == 0
	})
}

func TestStartRecoversJobsLeftInFlight(t *testing.T) {
	h := newHarness(t)
	sender := h.sender.(*recordingSender)
	ctx := context.Background()

	// An earlier activation stopped before it could record this job's
	// outcome.
	if _, err := h.queue.Enqueue(ctx, queue.Payload{DeviceID: "A1", Phone: "+100", Token: "T", CapturedAt: epoch}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-h.queue.Notify()
	if _, ok, err := h.queue.DequeueReady(ctx, epoch); err != nil || !ok {
		t.Fatalf("DequeueReady = (ok=%v, err=%v)", ok, err)
	}

	supervisor := h.newSupervisor(t, nil)
	defer supervisor.Stop()
	if err := supervisor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sender.waitForCalls(t, 1)
	eventually(t, "recovered job to be delivered", func() bool {
		n, err := h.queue.Len(ctx)
		return err == nil && n == 0
	})
}

func TestResumeStaysInactive(t *testing.T) {
	for _, saved := range []*persistedState{nil, {Active: false}} {
		h := newHarness(t)
		if saved != nil {
			if err := statefile.Write(h.statePath, *saved); err != nil {
				t.Fatalf("writing saved state: %v", err)
			}
		}
		supervisor := h.newSupervisor(t, nil)
		if err := supervisor.Resume(context.Background()); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if supervisor.State() != Inactive {
			t.Errorf("saved %+v: State = %s, want inactive", saved, supervisor.State())
		}
	}
}

func TestResumeKeepsActiveFlagWhenPreconditionFails(t *testing.T) {
	h := newHarness(t)
	h.source.checkErr = location.ErrUnavailable
	if err := statefile.Write(h.statePath, persistedState{Active: true}); err != nil {
		t.Fatalf("writing saved state: %v", err)
	}

	supervisor := h.newSupervisor(t, nil)
	err := supervisor.Resume(context.Background())
	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("Resume error = %v, want PreconditionError", err)
	}
	if supervisor.State() != Inactive {
		t.Errorf("State = %s, want inactive", supervisor.State())
	}
	if stored, ok := h.savedState(t); !ok || !stored.Active {
		t.Error("saved Active flag was cleared")
	}
}

func TestShutdownKeepsSavedState(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t)
	supervisor := h.newSupervisor(t, nil)
	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	supervisor.Shutdown()
	if supervisor.State() != Inactive {
		t.Errorf("State after Shutdown = %s", supervisor.State())
	}
	if stored, ok := h.savedState(t); !ok || !stored.Active {
		t.Fatal("Shutdown cleared the saved Active flag")
	}

	// The next process picks up where this one stopped.
	next := h.newSupervisor(t, nil)
	if err := next.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer next.Stop()
	if next.State() != Active {
		t.Errorf("resumed State = %s, want active", next.State())
	}
}

// gatedSender holds every attempt until released.
type gatedSender struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, _ transport.Request) (transport.Response, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return transport.Response{StatusCode: 200}, nil
	case <-ctx.Done():
		return transport.Response{}, ctx.Err()
	}
}

func TestStopWaitsForInFlightAttempt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t)
	sender := &gatedSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	supervisor := h.newSupervisor(t, func(cfg *Config) { cfg.Sender = sender })

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.feed(t, 1, 1)
	<-sender.started

	stopped := make(chan error, 1)
	go func() { stopped <- supervisor.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an attempt was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	n, err := h.queue.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Errorf("Len = %d after Stop, want the in-flight job delivered", n)
	}
}

// flakyQueue fails the first failures Enqueue calls.
type flakyQueue struct {
	*queue.Queue
	failures atomic.Int32
}

func (f *flakyQueue) Enqueue(ctx context.Context, payload queue.Payload) (int64, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, errors.New("disk I/O error")
	}
	return f.Queue.Enqueue(ctx, payload)
}

func TestEnqueueFailuresAreRetried(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyQueue{Queue: h.queue}
	flaky.failures.Store(2)
	supervisor := h.newSupervisor(t, func(cfg *Config) {
		cfg.Queue = flaky
		cfg.EnqueueRetryDelay = 10 * time.Second
	})
	defer supervisor.Stop()

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.feed(t, 1, 1)

	// One timer is the idle worker's poll; the other is the retry pause.
	for range 2 {
		h.clock.WaitForTimers(2)
		h.clock.Advance(10 * time.Second)
	}
	eventually(t, "sample to be accepted after retries", func() bool {
		return status(t, supervisor).SamplesAccepted == 1
	})
	if dropped := status(t, supervisor).SamplesDropped; dropped != 0 {
		t.Errorf("SamplesDropped = %d, want 0", dropped)
	}
}

func TestEnqueueFailureDropsSampleWithoutStopping(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyQueue{Queue: h.queue}
	flaky.failures.Store(1)
	supervisor := h.newSupervisor(t, func(cfg *Config) {
		cfg.Queue = flaky
		cfg.EnqueueRetries = -1
	})
	defer supervisor.Stop()

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.feed(t, 1, 1)
	eventually(t, "sample to be dropped", func() bool { return status(t, supervisor).SamplesDropped == 1 })

	h.clock.Advance(time.Minute)
	h.feed(t, 2, 2)
	eventually(t, "loop to keep accepting", func() bool { return status(t, supervisor).SamplesAccepted == 1 })
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New with empty config succeeded")
	}
	h := newHarness(t)
	cfg := h.config()
	cfg.Cadence = location.Cadence{Min: time.Hour, Target: time.Minute}
	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted min interval above target")
	}
}
