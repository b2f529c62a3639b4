// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/beacon/lib/clock"
)

// FixedSource reports the same coordinate once per Cadence.Target,
// starting immediately.
type FixedSource struct {
	lat, lng float64
	clock    clock.Clock
}

// NewFixedSource validates the coordinate.
func NewFixedSource(lat, lng float64, clk clock.Clock) (*FixedSource, error) {
	if !validCoordinate(lat, lng) {
		return nil, fmt.Errorf("location: coordinate (%g, %g) out of range", lat, lng)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &FixedSource{lat: lat, lng: lng, clock: clk}, nil
}

// Check always succeeds.
func (s *FixedSource) Check(context.Context) error { return nil }

func (s *FixedSource) Subscribe(ctx context.Context, cadence Cadence) (<-chan Sample, error) {
	if err := cadence.Validate(); err != nil {
		return nil, err
	}
	samples := make(chan Sample)
	go func() {
		defer close(samples)
		ticker := s.clock.NewTicker(cadence.Target)
		defer ticker.Stop()
		for {
			select {
			case samples <- Sample{Lat: s.lat, Lng: s.lng, CapturedAt: s.clock.Now()}:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return samples, nil
}
