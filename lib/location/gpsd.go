// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
)

// DefaultGPSDAddress is where gpsd listens by default.
const DefaultGPSDAddress = "localhost:2947"

const watchCommand = `?WATCH={"enable":true,"json":true}` + "\n"

const (
	gpsdInitialBackoff = time.Second
	gpsdMaxBackoff     = 30 * time.Second
)

// GPSDSource follows a gpsd daemon's JSON stream and reports its most
// recent 2D or 3D fix once per Cadence.Target. The first fix is
// reported as soon as it arrives. A fix is never reported twice, and
// losing the fix (mode below 2) suppresses samples until it returns.
// Lost connections are retried with exponential backoff.
type GPSDSource struct {
	address string
	dialer  net.Dialer
	clock   clock.Clock
	logger  *slog.Logger
}

// NewGPSDSource returns a source for the gpsd at address.
func NewGPSDSource(address string, clk clock.Clock, logger *slog.Logger) *GPSDSource {
	if address == "" {
		address = DefaultGPSDAddress
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GPSDSource{
		address: address,
		dialer:  net.Dialer{Timeout: 5 * time.Second},
		clock:   clk,
		logger:  logger.With("component", "gpsd", "address", address),
	}
}

// Check connects to gpsd and hangs up.
func (s *GPSDSource) Check(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("%w: gpsd at %s: %v", ErrUnavailable, s.address, err)
	}
	conn.Close()
	return nil
}

func (s *GPSDSource) Subscribe(ctx context.Context, cadence Cadence) (<-chan Sample, error) {
	if err := cadence.Validate(); err != nil {
		return nil, err
	}

	samples := make(chan Sample)
	latest := &latestFix{updated: make(chan struct{}, 1)}

	var following sync.WaitGroup
	following.Add(1)
	go func() {
		defer following.Done()
		s.follow(ctx, latest)
	}()
	go func() {
		defer close(samples)
		defer following.Wait()
		s.emit(ctx, cadence, latest, samples)
	}()
	return samples, nil
}

func (s *GPSDSource) emit(ctx context.Context, cadence Cadence, latest *latestFix, samples chan<- Sample) {
	ticker := s.clock.NewTicker(cadence.Target)
	defer ticker.Stop()

	// Until the first sample goes out, every new fix wakes the loop.
	firstFix := latest.updated
	var lastReported time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-firstFix:
		}

		fix, ok := latest.get()
		if !ok || !fix.CapturedAt.After(lastReported) {
			continue
		}
		select {
		case samples <- fix:
			lastReported = fix.CapturedAt
			firstFix = nil
		case <-ctx.Done():
			return
		}
	}
}

func (s *GPSDSource) follow(ctx context.Context, latest *latestFix) {
	backoff := gpsdInitialBackoff
	for {
		gotFix, err := s.session(ctx, latest)
		if ctx.Err() != nil {
			return
		}
		if gotFix {
			backoff = gpsdInitialBackoff
		}
		latest.clear()
		s.logger.Warn("gpsd connection lost, reconnecting", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(backoff):
		}
		backoff = min(backoff*2, gpsdMaxBackoff)
	}
}

// tpvReport is the subset of a gpsd TPV object the agent uses.
type tpvReport struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Time  string   `json:"time"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
}

// session runs one connection until it fails or ctx ends.
func (s *GPSDSource) session(ctx context.Context, latest *latestFix) (bool, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, watchCommand); err != nil {
		return false, fmt.Errorf("sending WATCH: %w", err)
	}

	gotFix := false
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		var report tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil || report.Class != "TPV" {
			continue
		}
		if report.Mode < 2 || report.Lat == nil || report.Lon == nil || !validCoordinate(*report.Lat, *report.Lon) {
			latest.clear()
			continue
		}

		captured := s.clock.Now()
		if report.Time != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, report.Time); err == nil {
				captured = parsed
			}
		}
		latest.set(Sample{Lat: *report.Lat, Lng: *report.Lon, CapturedAt: captured})
		gotFix = true
	}
	if err := scanner.Err(); err != nil {
		return gotFix, err
	}
	return gotFix, errors.New("gpsd closed the connection")
}

// latestFix holds the newest usable fix.
type latestFix struct {
	mu      sync.Mutex
	sample  Sample
	ok      bool
	updated chan struct{}
}

func (l *latestFix) set(sample Sample) {
	l.mu.Lock()
	l.sample, l.ok = sample, true
	l.mu.Unlock()
	select {
	case l.updated <- struct{}{}:
	default:
	}
}

func (l *latestFix) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ok = false
}

func (l *latestFix) get() (Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sample, l.ok
}
