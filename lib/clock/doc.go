// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the agent's injectable time source.
//
// Everything in beacon that waits (retry backoff, the sampling
// cadence, worker sleeps between empty polls) asks a [Clock] instead
// of calling the time package, so tests can drive hours of retry
// schedule in microseconds:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go worker.Run(ctx)
//	fake.WaitForTimers(1)         // the worker is now parked
//	fake.Advance(15 * time.Second) // and now it wakes up
//
// [Real] is the production implementation.
package clock
