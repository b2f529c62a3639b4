// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/beacon/lib/secret"
	"github.com/bureau-foundation/beacon/lib/statefile"
)

// Identity is an age X25519 keypair.
type Identity struct {
	private   *secret.Buffer
	recipient string
}

// GenerateIdentity creates a fresh keypair.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	private, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Identity{private: private, recipient: identity.Recipient().String()}, nil
}

// identityFile is the on-disk form of an Identity.
type identityFile struct {
	PrivateKey string `cbor:"private_key"`
}

// LoadOrCreateIdentity reads the identity at path, creating and
// persisting a new one if the file does not exist.
func LoadOrCreateIdentity(path string) (*Identity, bool, error) {
	var stored identityFile
	err := statefile.Read(path, &stored)
	if err == nil {
		identity, err := parseIdentity(stored.PrivateKey)
		return identity, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	identity, err := GenerateIdentity()
	if err != nil {
		return nil, false, err
	}
	if err := statefile.Write(path, identityFile{PrivateKey: identity.private.String()}); err != nil {
		identity.Close()
		return nil, false, fmt.Errorf("sealed: saving identity: %w", err)
	}
	return identity, true, nil
}

func parseIdentity(encoded string) (*Identity, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity: %w", err)
	}
	private, err := secret.NewFromBytes([]byte(parsed.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Identity{private: private, recipient: parsed.Recipient().String()}, nil
}

// Recipient returns the public key ("age1...").
func (i *Identity) Recipient() string {
	return i.recipient
}

// Close releases the private key.
func (i *Identity) Close() error {
	return i.private.Close()
}

// Encrypt seals plaintext to the identity's public key.
func (i *Identity) Encrypt(plaintext []byte) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(i.recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt opens ciphertext produced by Encrypt. The plaintext is
// returned in protected memory; the caller closes it.
func (i *Identity) Decrypt(ciphertext []byte) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(i.private.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: empty plaintext")
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, err
	}
	return buffer, nil
}
