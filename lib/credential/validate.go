// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/beacon/lib/transport"
)

// ErrRejected means the server looked at the credentials and said no:
// unknown device, wrong token, or a malformed request.
var ErrRejected = errors.New("credential: rejected by server")

// Validator checks credentials against the server.
type Validator struct {
	sender transport.Sender
	url    string
}

// NewValidator returns a Validator posting to serverRoot's
// /api/validate_device.
func NewValidator(sender transport.Sender, serverRoot string) (*Validator, error) {
	url, err := transport.ValidateDeviceURL(serverRoot)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return &Validator{sender: sender, url: url}, nil
}

// Validate returns nil when the server accepts the credentials, an
// error wrapping ErrRejected when it refuses them, and any other error
// when the server could not be asked.
func (v *Validator) Validate(ctx context.Context, credentials Credentials) error {
	if err := credentials.Check(); err != nil {
		return err
	}
	response, err := v.sender.Send(ctx, transport.Request{
		URL: v.url,
		Body: transport.DeviceValidation{
			IMEI:  credentials.DeviceID,
			Phone: credentials.Phone,
			Token: credentials.Token,
		},
	})
	if err != nil {
		return fmt.Errorf("credential: validating: %w", err)
	}
	if response.OK() {
		return nil
	}

	switch response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d %s", ErrRejected, response.StatusCode, response.Detail)
	default:
		return fmt.Errorf("credential: validating: HTTP %d %s", response.StatusCode, response.Detail)
	}
}

// Enroll validates credentials with the server and stores them only
// if the server accepts them.
func Enroll(ctx context.Context, validator *Validator, store Store, credentials Credentials) error {
	if err := validator.Validate(ctx, credentials); err != nil {
		return err
	}
	return store.Set(credentials)
}
