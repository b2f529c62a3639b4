// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Revalidator periodically checks the stored credentials with the
// server. It only reports; queued deliveries carry their own
// credential snapshot and are never touched.
type Revalidator struct {
	store     Store
	validator *Validator
	schedule  string
	timeout   time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewRevalidator returns a stopped job. schedule is a robfig/cron
// schedule such as "@every 6h" or "0 */6 * * *".
func NewRevalidator(store Store, validator *Validator, schedule string, logger *slog.Logger) *Revalidator {
	return &Revalidator{
		store:     store,
		validator: validator,
		schedule:  schedule,
		timeout:   30 * time.Second,
		cron:      cron.New(),
		logger:    logger.With("component", "credential_revalidation"),
	}
}

// Start schedules the job.
func (r *Revalidator) Start() error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("credential: revalidation schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("credential revalidation scheduled", "schedule", r.schedule)
	return nil
}

// Stop unschedules the job and waits for a running check to finish.
func (r *Revalidator) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce checks the stored credentials now and returns the result.
func (r *Revalidator) RunOnce(ctx context.Context) error {
	credentials, err := r.store.Get()
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			r.logger.Debug("revalidation skipped: not enrolled")
			return nil
		}
		r.logger.Error("reading credentials for revalidation failed", "error", err)
		return err
	}

	err = r.validator.Validate(ctx, credentials)
	switch {
	case err == nil:
		r.logger.Debug("credentials still valid", "credentials", credentials)
	case errors.Is(err, ErrRejected):
		r.logger.Warn("server rejects stored credentials; deliveries will keep failing until re-enrolled",
			"credentials", credentials,
			"error", err,
		)
	default:
		r.logger.Info("credential revalidation could not reach server", "error", err)
	}
	return err
}
