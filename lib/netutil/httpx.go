// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds how much of an HTTP response the agent will
// read. The telemetry and validation endpoints answer with a few bytes
// of JSON; a misbehaving proxy or captive portal must not be able to
// make the agent buffer megabytes of HTML.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MaxResponseSize bounds response body reads: 1 MiB.
const MaxResponseSize int64 = 1 << 20

// MaxErrorBody is how much of an error body ErrorBody keeps for logs.
const MaxErrorBody = 512

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body up to MaxResponseSize bytes
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns the start of an error response body, whitespace
// trimmed and cut at MaxErrorBody bytes, for diagnostics. Read errors
// are ignored: a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody))
	return strings.TrimSpace(string(data))
}

// Drain discards the rest of a body, up to MaxResponseSize, so the
// underlying connection can be reused.
func Drain(body io.Reader) {
	io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
}
