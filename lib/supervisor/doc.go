// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor keeps the sampling and delivery loops alive while
// the agent is Active.
//
// The supervisor has two states. Start moves Inactive to Active after
// checking that the location source answers and the device is
// enrolled; if either check fails it returns a *PreconditionError and
// stays Inactive. Stop moves back to Inactive. The state is written to
// disk (lib/statefile) on every transition, before the loops change.
//
// Resume is the startup step. It demotes jobs a dead process left
// InFlight back to Pending, reads the persisted state, and calls Start
// if the agent was Active. A host service manager that restarts the
// agent after a kill therefore gets sampling and delivery back without
// anyone issuing a new start command.
//
// While Active, one goroutine turns samples into queue jobs, dropping
// samples that arrive sooner than Cadence.Min after the last accepted
// one, and Workers goroutines run delivery.Worker loops. Stop cancels
// sampling at once and lets attempts already in progress finish and
// report.
package supervisor
