// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"time"
)

// State is a job's position in the delivery lifecycle.
type State int

const (
	Pending State = iota + 1
	InFlight
	Delivered
	Abandoned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Delivered:
		return "delivered"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Payload is the immutable snapshot a job delivers. Credentials are
// captured at enqueue time: rotating the token later does not change
// jobs already queued.
type Payload struct {
	DeviceID   string    `json:"imei"`
	Phone      string    `json:"phone"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Token      string    `json:"token"`
	CapturedAt time.Time `json:"captured_at"`
}

// Job is one queued delivery.
type Job struct {
	ID int64

	// Key is a UUID fixed at enqueue and sent with every attempt so the
	// server can recognize redeliveries of the same sample.
	Key string

	Payload        Payload
	Attempts       int
	State          State
	NextEligibleAt time.Time
	CreatedAt      time.Time
	LastError      string
}

// Failure is the result of MarkFailed.
type Failure struct {
	// Attempts is the job's attempt count after this failure.
	Attempts int

	// NextEligibleAt is when the job may be dequeued again. Zero when
	// Abandoned is true.
	NextEligibleAt time.Time

	// Abandoned is true when the retry budget ran out and the job was
	// removed.
	Abandoned bool
}

// Stats summarizes the queue for status reporting. Delivered,
// Abandoned and Evicted are lifetime totals.
type Stats struct {
	Pending   int   `json:"pending"`
	InFlight  int   `json:"in_flight"`
	Delivered int64 `json:"delivered"`
	Abandoned int64 `json:"abandoned"`
	Evicted   int64 `json:"evicted"`
}

// DeadLetter is an audit record of a job that left the queue without
// being delivered. The token is not retained.
type DeadLetter struct {
	JobID      int64
	Key        string
	DeviceID   string
	Lat        float64
	Lng        float64
	CapturedAt time.Time
	Attempts   int
	Reason     string
	LastError  string
	RecordedAt time.Time
}

// Reasons recorded in the audit table.
const (
	ReasonBudgetExhausted = "retry budget exhausted"
	ReasonEvicted         = "evicted: queue full"
)
