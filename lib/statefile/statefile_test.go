// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type record struct {
	Active bool      `cbor:"active"`
	Since  time.Time `cbor:"since"`
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	want := record{Active: true, Since: time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got record
	if err := Read(path, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Active != want.Active || !got.Since.Equal(want.Since) {
		t.Errorf("Read = %+v, want %+v", got, want)
	}
}

func TestWriteOverwritesAndLeavesNoTemporary(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "state.cbor")

	if err := Write(path, record{Active: true}); err != nil {
		t.Fatalf("Write first: %v", err)
	}
	if err := Write(path, record{Active: false}); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	var got record
	if err := Read(path, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Active {
		t.Error("Active = true, want the second write to win")
	}

	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file left behind: stat error = %v", err)
	}
}

func TestWritePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	if err := Write(path, record{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("mode = %o, want 0600", mode)
	}
}

func TestReadMissing(t *testing.T) {
	var got record
	err := Read(filepath.Join(t.TempDir(), "absent.cbor"), &got)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read missing file: error = %v, want os.ErrNotExist", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var got record
	err := Read(path, &got)
	if err == nil {
		t.Fatal("Read of corrupt file succeeded")
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Fatal("corrupt file reported as missing")
	}
}

func TestWriteMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "state.cbor")
	if err := Write(path, record{}); err == nil {
		t.Fatal("Write into a missing directory succeeded")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	if err := Write(path, record{Active: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	var got record
	if err := Read(path, &got); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read after Clear: error = %v, want os.ErrNotExist", err)
	}
}
