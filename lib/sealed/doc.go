// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small records at rest with age (X25519).
//
// The agent owns one [Identity], created on first use and stored in a
// 0600 file beside the data it protects. Losing the identity file
// makes everything sealed to it unreadable, which is the intended
// failure: a device wiped of its key must be re-enrolled.
//
// Ciphertext is the raw binary age format. The private key is held in
// a [secret.Buffer] while the process runs.
package sealed
