// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport performs single HTTP POST attempts against the
// telemetry server.
//
// A Sender never retries and never interprets status codes beyond
// reporting them: any HTTP response, 2xx or not, comes back as a
// Response with a nil error, and only failures that produced no
// response at all (DNS, refused connection, timeout, TLS) come back as
// errors. Retry policy belongs to the caller.
//
// The wire shapes of the two server endpoints live here too:
// LocationUpdate for {serverRoot}/api/location_update and
// DeviceValidation for {serverRoot}/api/validate_device.
package transport
