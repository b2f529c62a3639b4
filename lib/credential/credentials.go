// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zeebo/blake3"
)

// Credentials identify the device to the server. The server calls the
// device identifier "imei".
type Credentials struct {
	DeviceID string `json:"imei" cbor:"imei"`
	Phone    string `json:"phone" cbor:"phone"`
	Token    string `json:"token" cbor:"token"`
}

// Check reports every missing field.
func (c Credentials) Check() error {
	var errs []error
	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("device ID is required"))
	}
	if strings.TrimSpace(c.Phone) == "" {
		errs = append(errs, errors.New("phone is required"))
	}
	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("credential: incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// Fingerprint identifies the token in logs without revealing it.
func (c Credentials) Fingerprint() string {
	if c.Token == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(c.Token))
	return "blake3:" + hex.EncodeToString(sum[:6])
}

// LogValue keeps the token out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("device_id", c.DeviceID),
		slog.String("phone", c.Phone),
		slog.String("token", c.Fingerprint()),
	)
}
