// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/beacon/lib/netutil"
	"github.com/bureau-foundation/beacon/lib/supervisor"
)

// Error is a non-2xx answer from the control API.
type Error struct {
	StatusCode int
	Message    string

	// Reason names the failed precondition when StatusCode is 409.
	Reason string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("agent refused (HTTP %d, %s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("agent returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running agent's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the agent listening on address
// (host:port, or a full http:// URL).
func NewClient(address string) *Client {
	baseURL := address
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Stop waits for in-flight delivery attempts, so the timeout
		// covers a full send timeout plus slack.
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

// Start asks the agent to start. A refused start is an *Error with
// StatusCode 409 and the failed precondition in Reason.
func (c *Client) Start(ctx context.Context) (supervisor.Status, error) {
	return c.do(ctx, http.MethodPost, "/v1/start")
}

// Stop asks the agent to stop and returns its status afterwards.
func (c *Client) Stop(ctx context.Context) (supervisor.Status, error) {
	return c.do(ctx, http.MethodPost, "/v1/stop")
}

// Status returns the agent's current status.
func (c *Client) Status(ctx context.Context) (supervisor.Status, error) {
	return c.do(ctx, http.MethodGet, "/v1/status")
}

func (c *Client) do(ctx context.Context, method, path string) (supervisor.Status, error) {
	var status supervisor.Status

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return status, fmt.Errorf("control: building request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return status, fmt.Errorf("control: %s %s: %w (is the agent running?)", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode/100 != 2 {
		var body errorResponse
		if decodeErr := netutil.DecodeResponse(response.Body, &body); decodeErr != nil || body.Error == "" {
			body.Error = http.StatusText(response.StatusCode)
		}
		return status, &Error{StatusCode: response.StatusCode, Message: body.Error, Reason: body.Reason}
	}

	if err := netutil.DecodeResponse(response.Body, &status); err != nil {
		return status, fmt.Errorf("control: decoding %s response: %w", path, err)
	}
	return status, nil
}
