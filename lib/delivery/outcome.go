// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"
	"net/http"

	"github.com/bureau-foundation/beacon/lib/transport"
)

// AlwaysRetryTransportErrors makes every failed attempt retryable,
// whatever the status code. Changing it changes delivery semantics:
// with it false, 4xx responses other than 408 and 429 abandon the job
// immediately.
const AlwaysRetryTransportErrors = true

// Kind is the class of an attempt's outcome.
type Kind int

const (
	Delivered Kind = iota + 1
	Retryable
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one attempt.
type Outcome struct {
	Kind Kind

	// Reason describes a failure. Empty for Delivered.
	Reason string
}

// Classify turns a transport result into an Outcome under
// AlwaysRetryTransportErrors.
func Classify(response transport.Response, err error) Outcome {
	return classify(response, err, AlwaysRetryTransportErrors)
}

func classify(response transport.Response, err error, alwaysRetry bool) Outcome {
	if err != nil {
		return Outcome{Kind: Retryable, Reason: err.Error()}
	}
	if response.OK() {
		return Outcome{Kind: Delivered}
	}

	reason := fmt.Sprintf("HTTP %d", response.StatusCode)
	if response.Detail != "" {
		reason += ": " + response.Detail
	}
	if !alwaysRetry && permanent(response.StatusCode) {
		return Outcome{Kind: Fatal, Reason: reason}
	}
	return Outcome{Kind: Retryable, Reason: reason}
}

func permanent(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status <= 499
}
