// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bureau-foundation/beacon/lib/netutil"
	"github.com/bureau-foundation/beacon/lib/version"
)

// Request is one POST of a JSON body.
type Request struct {
	URL  string
	Body any

	// IdempotencyKey, if set, is sent as the Idempotency-Key header.
	IdempotencyKey string
}

// Response is what came back from the server.
type Response struct {
	StatusCode int

	// Detail is the start of the body of a non-2xx response, for logs.
	Detail string
}

// OK reports whether the status is in [200, 299].
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, request Request) (Response, error)
}

// HTTPSender is a Sender over net/http.
type HTTPSender struct {
	client    *http.Client
	userAgent string
}

// NewHTTPSender returns a sender whose client gives up after timeout.
// Callers should still bound each attempt with a context deadline;
// the client timeout is a backstop.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		client:    &http.Client{Timeout: timeout},
		userAgent: version.UserAgent(),
	}
}

// Send POSTs request.Body as JSON.
func (s *HTTPSender) Send(ctx context.Context, request Request) (Response, error) {
	body, err := json.Marshal(request.Body)
	if err != nil {
		return Response{}, fmt.Errorf("transport: encoding body: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, request.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("transport: building request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("User-Agent", s.userAgent)
	if request.IdempotencyKey != "" {
		httpRequest.Header.Set("Idempotency-Key", request.IdempotencyKey)
	}

	httpResponse, err := s.client.Do(httpRequest)
	if err != nil {
		return Response{}, fmt.Errorf("transport: POST %s: %w", redact(request.URL), err)
	}
	defer httpResponse.Body.Close()

	response := Response{StatusCode: httpResponse.StatusCode}
	if !response.OK() {
		response.Detail = netutil.ErrorBody(httpResponse.Body)
	}
	netutil.Drain(httpResponse.Body)
	return response, nil
}

// LocationUpdateURL returns {serverRoot}/api/location_update.
func LocationUpdateURL(serverRoot string) (string, error) {
	return endpoint(serverRoot, "api/location_update")
}

// ValidateDeviceURL returns {serverRoot}/api/validate_device.
func ValidateDeviceURL(serverRoot string) (string, error) {
	return endpoint(serverRoot, "api/validate_device")
}

func endpoint(serverRoot, path string) (string, error) {
	parsed, err := url.Parse(serverRoot)
	if err != nil {
		return "", fmt.Errorf("transport: server root %q: %w", serverRoot, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("transport: server root %q must be an http or https URL", serverRoot)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("transport: server root %q has no host", serverRoot)
	}
	return parsed.JoinPath(path).String(), nil
}

// redact drops user info and query from a URL for error messages.
func redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}
