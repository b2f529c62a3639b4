// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/transport"
)

// Queue is the part of *queue.Queue a Worker uses.
type Queue interface {
	DequeueReady(ctx context.Context, now time.Time) (queue.Job, bool, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, now time.Time, reason string) (queue.Failure, error)
	Abandon(ctx context.Context, id int64, now time.Time, reason string) error
	NextEligible(ctx context.Context) (time.Time, bool, error)
	Notify() <-chan struct{}
}

// Config holds the parameters for New.
type Config struct {
	Queue  Queue
	Sender transport.Sender

	// URL is the location update endpoint.
	URL string

	// SendTimeout bounds one attempt. Defaults to 20s.
	SendTimeout time.Duration

	// PollInterval is the longest Run sleeps without looking at the
	// queue. Defaults to 30s.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Counts are lifetime attempt totals for one worker.
type Counts struct {
	Delivered int64 `json:"delivered"`
	Retried   int64 `json:"retried"`
	Abandoned int64 `json:"abandoned"`
}

// Worker executes delivery attempts. RunOnce may be called from
// several goroutines; each Run call is one consumer.
type Worker struct {
	queue        Queue
	sender       transport.Sender
	url          string
	sendTimeout  time.Duration
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	delivered atomic.Int64
	retried   atomic.Int64
	abandoned atomic.Int64
}

// New validates cfg and returns a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("delivery: Queue is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("delivery: Sender is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("delivery: URL is required")
	}
	worker := &Worker{
		queue:        cfg.Queue,
		sender:       cfg.Sender,
		url:          cfg.URL,
		sendTimeout:  cfg.SendTimeout,
		pollInterval: cfg.PollInterval,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if worker.sendTimeout <= 0 {
		worker.sendTimeout = 20 * time.Second
	}
	if worker.pollInterval <= 0 {
		worker.pollInterval = 30 * time.Second
	}
	if worker.clock == nil {
		worker.clock = clock.Real()
	}
	if worker.logger == nil {
		worker.logger = slog.New(slog.DiscardHandler)
	}
	worker.logger = worker.logger.With("component", "delivery")
	return worker, nil
}

// Counts returns the worker's totals so far.
func (w *Worker) Counts() Counts {
	return Counts{
		Delivered: w.delivered.Load(),
		Retried:   w.retried.Load(),
		Abandoned: w.abandoned.Load(),
	}
}

// RunOnce makes one attempt for a job the caller holds InFlight and
// reports the outcome to the queue. Cancelling ctx does not cut the
// attempt short; SendTimeout does. While ctx is live a failing queue
// write is retried with backoff, so RunOnce may block through a
// storage outage.
func (w *Worker) RunOnce(ctx context.Context, job queue.Job) Outcome {
	attemptContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.sendTimeout)
	defer cancel()

	response, err := w.sender.Send(attemptContext, transport.Request{
		URL: w.url,
		Body: transport.LocationUpdate{
			IMEI:       job.Payload.DeviceID,
			Phone:      job.Payload.Phone,
			Lat:        job.Payload.Lat,
			Lng:        job.Payload.Lng,
			Token:      job.Payload.Token,
			CapturedAt: job.Payload.CapturedAt,
		},
		IdempotencyKey: job.Key,
	})
	outcome := Classify(response, err)
	w.report(ctx, job, outcome)
	return outcome
}

// Backoff between attempts to record an outcome while the queue's
// storage is failing.
const (
	reportBaseDelay = time.Second
	reportMaxDelay  = time.Minute
)

// report records outcome for job, retrying failed queue writes until
// one succeeds or ctx ends. The writes themselves run detached from
// ctx. A job whose outcome could not be recorded before ctx ended
// stays InFlight until the queue's next Recover.
func (w *Worker) report(ctx context.Context, job queue.Job, outcome Outcome) {
	writeContext := context.WithoutCancel(ctx)
	delay := reportBaseDelay
	for failures := 0; ; failures++ {
		err := w.reportOnce(writeContext, job, outcome)
		if err == nil {
			if failures > 0 {
				w.logger.Info("recorded delivery outcome after storage errors",
					"job_id", job.ID,
					"failures", failures,
				)
			}
			return
		}
		if errors.Is(err, queue.ErrNotFound) || errors.Is(err, queue.ErrNotInFlight) {
			w.logger.Warn("job no longer held, outcome dropped",
				"job_id", job.ID,
				"outcome", outcome.Kind.String(),
				"error", err,
			)
			return
		}
		if ctx.Err() != nil {
			w.logger.Error("recording delivery outcome failed; job stays in flight until recovered",
				"job_id", job.ID,
				"outcome", outcome.Kind.String(),
				"error", err,
			)
			return
		}
		w.logger.Warn("recording delivery outcome failed, retrying",
			"job_id", job.ID,
			"outcome", outcome.Kind.String(),
			"retry_in", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
		case <-w.clock.After(delay):
		}
		delay = min(delay*2, reportMaxDelay)
	}
}

func (w *Worker) reportOnce(ctx context.Context, job queue.Job, outcome Outcome) error {
	now := w.clock.Now()
	switch outcome.Kind {
	case Delivered:
		if err := w.queue.MarkDelivered(ctx, job.ID); err != nil {
			return err
		}
		w.delivered.Add(1)
		w.logger.Debug("location delivered",
			"job_id", job.ID,
			"attempts", job.Attempts+1,
			"captured_at", job.Payload.CapturedAt,
		)

	case Fatal:
		if err := w.queue.Abandon(ctx, job.ID, now, outcome.Reason); err != nil {
			return err
		}
		w.abandoned.Add(1)

	default:
		failure, err := w.queue.MarkFailed(ctx, job.ID, now, outcome.Reason)
		if err != nil {
			return err
		}
		if failure.Abandoned {
			w.abandoned.Add(1)
			return nil
		}
		w.retried.Add(1)
		w.logger.Info("delivery failed, will retry",
			"job_id", job.ID,
			"attempts", failure.Attempts,
			"reason", outcome.Reason,
			"next_attempt_at", failure.NextEligibleAt,
		)
	}
	return nil
}

// Run consumes the queue until ctx is cancelled. An attempt in
// progress when ctx is cancelled completes and reports before Run
// returns. Queue errors are logged and retried after PollInterval;
// Run only returns when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, found, err := w.queue.DequeueReady(ctx, w.clock.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err, "retry_in", w.pollInterval)
			if !w.sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}
		if found {
			w.RunOnce(ctx, job)
			continue
		}

		if !w.sleep(ctx, w.idleWait(ctx)) {
			return
		}
	}
}

// idleWait is how long to sleep with nothing ready: until the next
// Pending job becomes eligible, capped at PollInterval.
func (w *Worker) idleWait(ctx context.Context) time.Duration {
	wait := w.pollInterval
	next, found, err := w.queue.NextEligible(ctx)
	if err != nil {
		w.logger.Warn("reading next eligible time failed", "error", err)
		return wait
	}
	if found {
		wait = min(wait, next.Sub(w.clock.Now()))
	}
	return wait
}

// sleep waits for d, a new enqueue, or ctx. Returns false if ctx ended.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.queue.Notify():
		return true
	case <-w.clock.After(d):
		return true
	}
}
