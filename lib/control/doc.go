// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the agent's loopback HTTP API. The host's start
// and stop signals arrive here; the beacon-agent CLI subcommands are
// thin wrappers around [Client].
//
// Endpoints:
//
//	POST /v1/start   start sampling and delivery (409 when a precondition fails)
//	POST /v1/stop    stop; returns after in-flight attempts have reported
//	GET  /v1/status  supervisor state, sample counters, queue statistics
//	GET  /healthz    liveness
//
// Every response body is JSON. Errors are {"error": ..., "reason": ...}
// where reason names the failed precondition on a 409.
//
// The listener is expected to be loopback-only. There is no
// authentication: anything that can reach the port can stop the agent.
package control
