// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer identity.Close()

	if !strings.HasPrefix(identity.Recipient(), "age1") {
		t.Errorf("Recipient = %q, want age1 prefix", identity.Recipient())
	}

	plaintext := []byte(`{"imei":"A1","token":"T"}`)
	ciphertext, err := identity.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("A1")) {
		t.Error("ciphertext contains plaintext")
	}

	opened, err := identity.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer opened.Close()
	if !bytes.Equal(opened.Bytes(), plaintext) {
		t.Errorf("Decrypt = %q, want %q", opened.Bytes(), plaintext)
	}
}

func TestDecryptWithOtherIdentityFails(t *testing.T) {
	owner, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer owner.Close()
	stranger, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer stranger.Close()

	ciphertext, err := owner.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := stranger.Decrypt(ciphertext); err == nil {
		t.Fatal("Decrypt with the wrong identity succeeded")
	}
	if _, err := owner.Decrypt([]byte("not age")); err == nil {
		t.Fatal("Decrypt of garbage succeeded")
	}
}

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")

	first, created, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if !created {
		t.Error("first call did not report creation")
	}
	ciphertext, err := first.Encrypt([]byte("survives restart"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	first.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("identity file mode = %o, want 0600", mode)
	}

	second, created, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity reload: %v", err)
	}
	defer second.Close()
	if created {
		t.Error("reload reported creation")
	}
	opened, err := second.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt after reload: %v", err)
	}
	defer opened.Close()
	if opened.String() != "survives restart" {
		t.Errorf("Decrypt = %q", opened.String())
	}
}

func TestLoadOrCreateIdentityRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("corrupt identity file accepted")
	}
}
