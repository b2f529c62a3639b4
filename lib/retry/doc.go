// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry decides when a failed delivery is tried again and when
// it is given up.
//
// The schedule is exponential: BaseDelay * 2^(attempts-1), clamped to
// MaxDelay. With BaseDelay 15s and MaxDelay 120s the first five retries
// wait 15, 30, 60, 120 and 120 seconds. Backoff is a pure function of
// the attempt count; Delay adds optional bounded jitter on top so a
// fleet of agents that lost connectivity together does not retry in
// lockstep.
package retry
