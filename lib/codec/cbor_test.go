// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type stateRecord struct {
	State string    `cbor:"state"`
	Since time.Time `cbor:"since"`
	Count int       `cbor:"count,omitempty"`
}

type wireRecord struct {
	DeviceID string `json:"imei"`
	Token    string `json:"token"`
}

func TestTimePrecisionSurvives(t *testing.T) {
	since := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	data, err := Marshal(stateRecord{State: "active", Since: since})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded stateRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Since.Equal(since) {
		t.Fatalf("Since = %v, want %v", decoded.Since, since)
	}
	if decoded.State != "active" {
		t.Fatalf("State = %q", decoded.State)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := wireRecord{DeviceID: "356938035643809", Token: "T"}
	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(record)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs: %x vs %x", i, again, first)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	data, err := Marshal(wireRecord{DeviceID: "A1", Token: "T"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]string
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if generic["imei"] != "A1" || generic["token"] != "T" {
		t.Fatalf("decoded keys = %v, want imei and token", generic)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"state": "inactive", "future_field": 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded stateRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.State != "inactive" {
		t.Fatalf("State = %q", decoded.State)
	}
}
