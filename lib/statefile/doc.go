// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile persists small records that must survive process
// death, such as the supervisor's Active/Inactive flag.
//
// Records are CBOR-encoded with lib/codec and written atomically:
// temporary file in the same directory, fsync, rename over the
// target, fsync the directory. A reader sees either the previous
// record or the new one, never a torn write, and a record reported
// as written survives power loss.
package statefile
