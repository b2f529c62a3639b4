// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds beacon's single CBOR configuration.
//
// JSON is the wire format towards the tracking server. CBOR is used
// for everything the agent writes for itself: the supervisor state
// file and the plaintext of the encrypted credential bundle. Both are
// small records that must round-trip exactly across agent versions,
// so the encoder uses Core Deterministic Encoding (RFC 8949 §4.2) and
// the decoder ignores unknown fields.
//
// Types that only ever live on disk use `cbor` struct tags. Types
// that are also sent as JSON use `json` tags only; fxamacker/cbor
// falls back to them.
package codec
