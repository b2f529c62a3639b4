// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "log/slog"

// Observer is told about every job that leaves the queue undelivered.
// Calls happen after the removing transaction commits, on the goroutine
// that caused the removal; implementations must not call back into the
// queue.
type Observer interface {
	JobAbandoned(job Job)
	JobEvicted(job Job)
}

// LogObserver reports lost jobs as warnings.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) JobAbandoned(job Job) {
	o.Logger.Warn("delivery abandoned",
		"job_id", job.ID,
		"attempts", job.Attempts,
		"captured_at", job.Payload.CapturedAt,
		"last_error", job.LastError,
	)
}

func (o LogObserver) JobEvicted(job Job) {
	o.Logger.Warn("delivery evicted",
		"job_id", job.ID,
		"attempts", job.Attempts,
		"captured_at", job.Payload.CapturedAt,
		"reason", ReasonEvicted,
	)
}
