// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Policy is the retry configuration. The zero value is not valid; use
// DefaultPolicy or fill every field and call Validate.
type Policy struct {
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// MaxAttempts is the retry budget: once a job has failed this many
	// times it is abandoned. Zero or negative means unlimited.
	MaxAttempts int

	// Jitter is the fraction of the computed delay that Delay may add,
	// in [0, 1). Zero keeps the schedule deterministic.
	Jitter float64

	// Rand supplies jitter. Nil uses a process-wide source.
	Rand *rand.Rand
}

// DefaultPolicy returns the agent's default schedule: 15s base, one
// hour ceiling, ten attempts, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   15 * time.Second,
		MaxDelay:    time.Hour,
		MaxAttempts: 10,
	}
}

// Validate reports every problem with the policy.
func (p Policy) Validate() error {
	var errs []error
	if p.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("base delay must be positive, got %s", p.BaseDelay))
	}
	if p.MaxDelay < p.BaseDelay {
		errs = append(errs, fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay))
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("jitter must be in [0, 1), got %g", p.Jitter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("retry: invalid policy: %w", errors.Join(errs...))
	}
	return nil
}

// Backoff returns the wait before the next attempt of a job that has
// failed attempts times. Attempts below 1 are treated as 1.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	for range attempts - 1 {
		if delay >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(delay, p.MaxDelay)
}

// Exhausted reports whether a job that has failed attempts times has
// used up its budget.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Delay is Backoff plus up to Jitter*Backoff of random extra wait. The
// result never exceeds MaxDelay.
func (p Policy) Delay(attempts int) time.Duration {
	delay := p.Backoff(attempts)
	if p.Jitter <= 0 {
		return delay
	}
	spread := time.Duration(float64(delay) * p.Jitter * p.float64())
	return min(delay+spread, p.MaxDelay)
}

var (
	sharedMu   sync.Mutex
	sharedRand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x62656163))
)

func (p Policy) float64() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return sharedRand.Float64()
}
