// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery runs delivery attempts against the queue.
//
// [Worker.RunOnce] takes one InFlight job, makes exactly one transport
// attempt, classifies the result and reports it to the queue exactly
// once. [Worker.Run] is the loop around it: dequeue the next ready job,
// or sleep until the earliest of the next job's eligibility, the poll
// interval, or a new enqueue.
//
// Classification follows [AlwaysRetryTransportErrors]: every failure,
// including 4xx responses, is retryable. A rejected token may become
// valid again once the credential is re-validated, so the agent keeps
// trying until the retry budget runs out.
//
// Attempts are detached from the Run context. Cancelling Run stops new
// dequeues at once, but an attempt that has started runs to its
// SendTimeout and reports its outcome, so no job is left InFlight by a
// clean stop.
package delivery
