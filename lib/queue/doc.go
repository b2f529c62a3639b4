// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue is the agent's durable delivery queue.
//
// Every location sample becomes a Job persisted in SQLite before
// Enqueue returns, so a crash immediately afterwards loses nothing.
// Jobs move through a small state machine:
//
//	Pending --DequeueReady--> InFlight --MarkDelivered--> Delivered (row removed)
//	   ^                         |
//	   +-------MarkFailed--------+--budget exhausted--> Abandoned (row removed)
//
// DequeueReady is the only way into InFlight and runs as a single
// IMMEDIATE transaction with a conditional update, so two workers can
// never hold the same job. Among jobs whose NextEligibleAt has passed,
// dispatch is FIFO by ID.
//
// The queue is bounded by MaxDepth Pending jobs. When a new sample
// arrives at a full queue the oldest Pending job is evicted in the same
// transaction as the insert: old samples are lost before new ones.
//
// Abandoned and evicted jobs are never lost silently. Each is reported
// to the configured Observer and copied, without its token, into the
// dead_letters audit table.
//
// After a process restart call Recover once before starting workers:
// jobs the previous process left InFlight are demoted to Pending with
// their attempt count unchanged.
package queue
