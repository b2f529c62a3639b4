// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bureau-foundation/beacon/lib/codec"
	"github.com/bureau-foundation/beacon/lib/sealed"
	"github.com/bureau-foundation/beacon/lib/statefile"
)

// ErrNoCredentials is returned by Get before the device is enrolled.
var ErrNoCredentials = errors.New("credential: device is not enrolled")

// Store is durable storage for one credential set.
type Store interface {
	Get() (Credentials, error)
	Set(Credentials) error
}

const (
	identityFileName    = "identity"
	credentialsFileName = "credentials"
	bundleVersion       = 1
)

// bundle is the on-disk envelope around the sealed credentials.
type bundle struct {
	Version    int    `cbor:"version"`
	Ciphertext []byte `cbor:"ciphertext"`
}

// FileStore keeps credentials encrypted under a directory. Safe for
// concurrent use within one process.
type FileStore struct {
	mu       sync.Mutex
	path     string
	identity *sealed.Identity
}

// OpenFileStore opens the store in directory, creating the directory
// (0700) and the encryption identity if needed.
func OpenFileStore(directory string) (*FileStore, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("credential: creating %s: %w", directory, err)
	}
	identity, _, err := sealed.LoadOrCreateIdentity(filepath.Join(directory, identityFileName))
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return &FileStore{
		path:     filepath.Join(directory, credentialsFileName),
		identity: identity,
	}, nil
}

// Close releases the encryption key.
func (s *FileStore) Close() error {
	return s.identity.Close()
}

// Get returns the stored credentials, or ErrNoCredentials.
func (s *FileStore) Get() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored bundle
	if err := statefile.Read(s.path, &stored); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("credential: %w", err)
	}
	if stored.Version != bundleVersion {
		return Credentials{}, fmt.Errorf("credential: unsupported bundle version %d", stored.Version)
	}

	plaintext, err := s.identity.Decrypt(stored.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("credential: %w", err)
	}
	defer plaintext.Close()

	var credentials Credentials
	if err := codec.Unmarshal(plaintext.Bytes(), &credentials); err != nil {
		return Credentials{}, fmt.Errorf("credential: decoding: %w", err)
	}
	return credentials, nil
}

// Set replaces the stored credentials.
func (s *FileStore) Set(credentials Credentials) error {
	if err := credentials.Check(); err != nil {
		return err
	}
	plaintext, err := codec.Marshal(credentials)
	if err != nil {
		return fmt.Errorf("credential: encoding: %w", err)
	}
	ciphertext, err := s.identity.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := statefile.Write(s.path, bundle{Version: bundleVersion, Ciphertext: ciphertext}); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	return nil
}

// Clear removes the stored credentials. The identity is kept.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statefile.Clear(s.path)
}
