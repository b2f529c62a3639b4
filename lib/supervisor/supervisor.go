// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/credential"
	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/location"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/statefile"
	"github.com/bureau-foundation/beacon/lib/transport"
)

// State is the supervisor's persisted mode.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// PreconditionError is returned by Start when the agent cannot run.
type PreconditionError struct {
	// Reason names the failed check.
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("supervisor: precondition failed: %s: %v", e.Reason, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Queue is the part of *queue.Queue the supervisor uses.
type Queue interface {
	delivery.Queue
	Enqueue(ctx context.Context, payload queue.Payload) (int64, error)
	Recover(ctx context.Context) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Config holds the parameters for New.
type Config struct {
	// StatePath is the file holding the persisted state.
	StatePath string

	Queue       Queue
	Source      location.Source
	Credentials credential.Store
	Sender      transport.Sender

	// URL is the location update endpoint.
	URL string

	// Cadence defaults to location.DefaultCadence.
	Cadence location.Cadence

	// Workers is the number of delivery loops. Defaults to 1.
	Workers int

	// SendTimeout and PollInterval are passed to each delivery.Worker.
	SendTimeout  time.Duration
	PollInterval time.Duration

	// EnqueueRetries is how many more times a sample is offered to the
	// queue after a storage failure. Zero means 3; negative disables
	// retries.
	EnqueueRetries int

	// EnqueueRetryDelay defaults to 1s.
	EnqueueRetryDelay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// persistedState is the on-disk record.
type persistedState struct {
	Active bool      `cbor:"active"`
	Since  time.Time `cbor:"since"`
}

// Supervisor owns the agent's Active/Inactive lifecycle.
type Supervisor struct {
	statePath         string
	queue             Queue
	source            location.Source
	credentials       credential.Store
	cadence           location.Cadence
	workers           []*delivery.Worker
	enqueueRetries    int
	enqueueRetryDelay time.Duration
	clock             clock.Clock
	logger            *slog.Logger

	// mu serializes transitions.
	mu         sync.Mutex
	state      State
	since      time.Time
	activation *activation

	accepted  atomic.Int64
	throttled atomic.Int64
	dropped   atomic.Int64
}

// activation is one Active period's goroutines.
type activation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns an Inactive supervisor. Call Resume
// before anything else at process start.
func New(cfg Config) (*Supervisor, error) {
	var errs []error
	if cfg.StatePath == "" {
		errs = append(errs, errors.New("StatePath is required"))
	}
	if cfg.Queue == nil {
		errs = append(errs, errors.New("Queue is required"))
	}
	if cfg.Source == nil {
		errs = append(errs, errors.New("Source is required"))
	}
	if cfg.Credentials == nil {
		errs = append(errs, errors.New("Credentials is required"))
	}
	if cfg.Cadence == (location.Cadence{}) {
		cfg.Cadence = location.DefaultCadence()
	}
	if err := cfg.Cadence.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("supervisor: invalid config: %w", errors.Join(errs...))
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.EnqueueRetries < 0 {
		cfg.EnqueueRetries = 0
	} else if cfg.EnqueueRetries == 0 {
		cfg.EnqueueRetries = 3
	}
	if cfg.EnqueueRetryDelay <= 0 {
		cfg.EnqueueRetryDelay = time.Second
	}

	supervisor := &Supervisor{
		statePath:         cfg.StatePath,
		queue:             cfg.Queue,
		source:            cfg.Source,
		credentials:       cfg.Credentials,
		cadence:           cfg.Cadence,
		enqueueRetries:    cfg.EnqueueRetries,
		enqueueRetryDelay: cfg.EnqueueRetryDelay,
		clock:             cfg.Clock,
		logger:            cfg.Logger.With("component", "supervisor"),
	}
	for index := range cfg.Workers {
		worker, err := delivery.New(delivery.Config{
			Queue:        cfg.Queue,
			Sender:       cfg.Sender,
			URL:          cfg.URL,
			SendTimeout:  cfg.SendTimeout,
			PollInterval: cfg.PollInterval,
			Clock:        cfg.Clock,
			Logger:       cfg.Logger.With("worker", index),
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: %w", err)
		}
		supervisor.workers = append(supervisor.workers, worker)
	}
	return supervisor, nil
}

// Start moves the agent to Active. Starting an Active agent is a
// no-op. On a failed precondition the agent stays Inactive and the
// error is a *PreconditionError.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Active {
		return nil
	}
	if err := s.source.Check(ctx); err != nil {
		return &PreconditionError{Reason: "location source", Err: err}
	}
	if _, err := s.credentials.Get(); err != nil {
		return &PreconditionError{Reason: "credentials", Err: err}
	}

	runContext, cancel := context.WithCancel(context.Background())
	samples, err := s.source.Subscribe(runContext, s.cadence)
	if err != nil {
		cancel()
		return &PreconditionError{Reason: "location subscription", Err: err}
	}

	now := s.clock.Now()
	if err := s.persist(persistedState{Active: true, Since: now}); err != nil {
		cancel()
		return err
	}

	// No worker is running, so anything still InFlight was left by an
	// earlier activation whose outcome never reached the queue.
	if recovered, err := s.queue.Recover(ctx); err != nil {
		s.logger.Warn("recovering in-flight jobs failed", "error", err)
	} else if recovered > 0 {
		s.logger.Info("recovered jobs left in flight", "count", recovered)
	}

	current := &activation{cancel: cancel, done: make(chan struct{})}
	var running sync.WaitGroup
	running.Add(1)
	go func() {
		defer running.Done()
		s.ingest(runContext, samples)
	}()
	for _, worker := range s.workers {
		running.Add(1)
		go func() {
			defer running.Done()
			worker.Run(runContext)
		}()
	}
	go func() {
		running.Wait()
		close(current.done)
	}()

	s.activation = current
	s.state = Active
	s.since = now
	s.logger.Info("agent active",
		"min_interval", s.cadence.Min,
		"target_interval", s.cadence.Target,
		"workers", len(s.workers),
	)
	return nil
}

// Stop moves the agent to Inactive and returns once every loop has
// exited. Sampling stops immediately; attempts already in progress
// finish and record their outcome first.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.persist(persistedState{Active: false, Since: s.clock.Now()})
	if s.state == Inactive {
		return err
	}
	s.halt()
	s.logger.Info("agent inactive")
	return err
}

// Shutdown stops the loops the way Stop does but leaves the persisted
// state untouched, so an agent that was Active resumes on the next
// Resume. Call it when the process is exiting.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Inactive {
		return
	}
	s.halt()
	s.logger.Info("agent shut down; saved state kept")
}

// halt cancels the current activation and waits for its loops. The
// caller holds mu.
func (s *Supervisor) halt() {
	s.activation.cancel()
	<-s.activation.done
	s.activation = nil
	s.state = Inactive
	s.since = s.clock.Now()
}

// Resume restores the state a previous process left behind. It must
// run once at startup, before Start or Stop.
//
// When the agent was Active but a precondition now fails, the
// persisted state stays Active so the next restart tries again, and
// the *PreconditionError is returned.
func (s *Supervisor) Resume(ctx context.Context) error {
	recovered, err := s.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	var stored persistedState
	if err := statefile.Read(s.statePath, &stored); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no saved state, staying inactive", "recovered_jobs", recovered)
			return nil
		}
		return fmt.Errorf("supervisor: reading saved state: %w", err)
	}
	if !stored.Active {
		s.logger.Info("agent was inactive, staying inactive", "recovered_jobs", recovered)
		return nil
	}

	s.logger.Info("agent was active, resuming", "active_since", stored.Since, "recovered_jobs", recovered)
	if err := s.Start(ctx); err != nil {
		var precondition *PreconditionError
		if errors.As(err, &precondition) {
			s.logger.Warn("cannot resume yet; will retry on next start", "error", err)
		}
		return err
	}
	return nil
}

func (s *Supervisor) persist(state persistedState) error {
	if err := statefile.Write(s.statePath, state); err != nil {
		return fmt.Errorf("supervisor: saving state: %w", err)
	}
	return nil
}

// ingest turns samples into queue jobs until the channel closes.
func (s *Supervisor) ingest(ctx context.Context, samples <-chan location.Sample) {
	var lastAccepted time.Time
	for sample := range samples {
		if ctx.Err() != nil {
			return
		}
		now := s.clock.Now()
		if !lastAccepted.IsZero() && now.Sub(lastAccepted) < s.cadence.Min {
			s.throttled.Add(1)
			continue
		}

		credentials, err := s.credentials.Get()
		if err != nil {
			s.dropped.Add(1)
			s.logger.Warn("sample dropped: credentials unavailable", "error", err)
			continue
		}

		payload := queue.Payload{
			DeviceID:   credentials.DeviceID,
			Phone:      credentials.Phone,
			Lat:        sample.Lat,
			Lng:        sample.Lng,
			Token:      credentials.Token,
			CapturedAt: sample.CapturedAt,
		}
		if err := s.enqueue(ctx, payload); err != nil {
			s.dropped.Add(1)
			s.logger.Error("sample dropped: queue write failed",
				"captured_at", sample.CapturedAt,
				"attempts", s.enqueueRetries+1,
				"error", err,
			)
			continue
		}
		lastAccepted = now
		s.accepted.Add(1)
	}
}

// enqueue offers payload to the queue, retrying storage failures. A
// sample already accepted is written even if ctx ends mid-write.
func (s *Supervisor) enqueue(ctx context.Context, payload queue.Payload) error {
	var err error
	for attempt := 0; attempt <= s.enqueueRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-s.clock.After(s.enqueueRetryDelay):
			}
		}
		if _, err = s.queue.Enqueue(context.WithoutCancel(ctx), payload); err == nil {
			return nil
		}
		s.logger.Warn("enqueue failed", "attempt", attempt+1, "error", err)
	}
	return err
}

// Status is a snapshot for the control surface.
type Status struct {
	State string    `json:"state"`
	Since time.Time `json:"since,omitzero"`

	SamplesAccepted  int64 `json:"samples_accepted"`
	SamplesThrottled int64 `json:"samples_throttled"`
	SamplesDropped   int64 `json:"samples_dropped"`

	Delivery delivery.Counts `json:"delivery"`
	Queue    queue.Stats     `json:"queue"`
}

// Status reports the current state and counters.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	status := Status{State: s.state.String(), Since: s.since}
	s.mu.Unlock()

	status.SamplesAccepted = s.accepted.Load()
	status.SamplesThrottled = s.throttled.Load()
	status.SamplesDropped = s.dropped.Load()
	for _, worker := range s.workers {
		counts := worker.Counts()
		status.Delivery.Delivered += counts.Delivered
		status.Delivery.Retried += counts.Retried
		status.Delivery.Abandoned += counts.Abandoned
	}

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return status, fmt.Errorf("supervisor: %w", err)
	}
	status.Queue = stats
	return status, nil
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
