// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package location produces position samples for the agent.
//
// A [Source] is checked once when the agent starts (is a fix provider
// reachable at all?) and then subscribed to with a [Cadence]. Sources
// aim for Cadence.Target between samples; enforcing Cadence.Min is the
// consumer's job, since a push source can fire early.
//
// Two sources exist: [FixedSource] reports a configured coordinate,
// for stationary installations and tests, and [GPSDSource] follows a
// local gpsd daemon.
package location
