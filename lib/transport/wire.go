// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "time"

// LocationUpdate is the body of POST /api/location_update. The server
// identifies devices by the "imei" field.
type LocationUpdate struct {
	IMEI       string    `json:"imei"`
	Phone      string    `json:"phone"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Token      string    `json:"token"`
	CapturedAt time.Time `json:"captured_at"`
}

// DeviceValidation is the body of POST /api/validate_device.
type DeviceValidation struct {
	IMEI  string `json:"imei"`
	Phone string `json:"phone"`
	Token string `json:"token"`
}
