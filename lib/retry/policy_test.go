// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	policy := Policy{BaseDelay: 15 * time.Second, MaxDelay: 120 * time.Second, MaxAttempts: 10}

	want := []time.Duration{
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		120 * time.Second,
	}
	for index, expected := range want {
		attempts := index + 1
		if got := policy.Backoff(attempts); got != expected {
			t.Errorf("Backoff(%d) = %s, want %s", attempts, got, expected)
		}
	}
}

func TestBackoffIsDeterministic(t *testing.T) {
	policy := DefaultPolicy()
	first := policy.Backoff(3)
	for range 100 {
		if got := policy.Backoff(3); got != first {
			t.Fatalf("Backoff(3) = %s, earlier %s", got, first)
		}
	}
}

func TestBackoffEdges(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: time.Hour}

	tests := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{"zero treated as first", 0, time.Second},
		{"negative treated as first", -4, time.Second},
		{"large attempt clamps", 500, time.Hour},
		{"max int clamps", int(^uint(0) >> 1), time.Hour},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := policy.Backoff(test.attempts); got != test.want {
				t.Errorf("Backoff(%d) = %s, want %s", test.attempts, got, test.want)
			}
		})
	}
}

func TestExhausted(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3}
	for attempts, want := range map[int]bool{0: false, 2: false, 3: true, 7: true} {
		if got := policy.Exhausted(attempts); got != want {
			t.Errorf("Exhausted(%d) = %v, want %v", attempts, got, want)
		}
	}

	unlimited := Policy{BaseDelay: time.Second, MaxDelay: time.Minute}
	if unlimited.Exhausted(1_000_000) {
		t.Error("MaxAttempts 0 should never exhaust")
	}
}

func TestDelayJitterBounds(t *testing.T) {
	policy := Policy{
		BaseDelay: 10 * time.Second,
		MaxDelay:  time.Hour,
		Jitter:    0.5,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	}
	base := policy.Backoff(2)
	for range 1000 {
		delay := policy.Delay(2)
		if delay < base || delay > base+base/2 {
			t.Fatalf("Delay(2) = %s, want within [%s, %s]", delay, base, base+base/2)
		}
	}
}

func TestDelayWithoutJitterMatchesBackoff(t *testing.T) {
	policy := DefaultPolicy()
	for attempts := 1; attempts <= 12; attempts++ {
		if policy.Delay(attempts) != policy.Backoff(attempts) {
			t.Errorf("Delay(%d) != Backoff(%d) with zero jitter", attempts, attempts)
		}
	}
}

func TestDelayNeverExceedsCeiling(t *testing.T) {
	policy := Policy{BaseDelay: time.Minute, MaxDelay: time.Minute, Jitter: 0.9}
	for range 100 {
		if delay := policy.Delay(5); delay > time.Minute {
			t.Fatalf("Delay = %s exceeds MaxDelay", delay)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy invalid: %v", err)
	}

	bad := []Policy{
		{BaseDelay: 0, MaxDelay: time.Second},
		{BaseDelay: time.Minute, MaxDelay: time.Second},
		{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 1},
		{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: -0.1},
	}
	for _, policy := range bad {
		if err := policy.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", policy)
		}
	}
}
