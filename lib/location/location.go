// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sample is one position fix.
type Sample struct {
	Lat        float64
	Lng        float64
	CapturedAt time.Time
}

// Cadence is the sampling rate policy.
type Cadence struct {
	// Min is the shortest accepted gap between samples.
	Min time.Duration

	// Target is the gap a source aims for.
	Target time.Duration
}

// DefaultCadence is 30s minimum, 60s target.
func DefaultCadence() Cadence {
	return Cadence{Min: 30 * time.Second, Target: time.Minute}
}

// Validate checks 0 < Min <= Target.
func (c Cadence) Validate() error {
	if c.Min <= 0 || c.Target <= 0 {
		return fmt.Errorf("location: cadence intervals must be positive (min %s, target %s)", c.Min, c.Target)
	}
	if c.Min > c.Target {
		return fmt.Errorf("location: min interval %s exceeds target %s", c.Min, c.Target)
	}
	return nil
}

// ErrUnavailable wraps every Check failure.
var ErrUnavailable = errors.New("location: source unavailable")

// Source yields samples.
type Source interface {
	// Check verifies the source can produce fixes. A failure wraps
	// ErrUnavailable.
	Check(ctx context.Context) error

	// Subscribe delivers samples until ctx is done, then closes the
	// channel.
	Subscribe(ctx context.Context, cadence Cadence) (<-chan Sample, error)
}

func validCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
