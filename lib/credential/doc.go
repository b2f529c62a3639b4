// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential manages the device identity and auth token the
// agent stamps onto every location update.
//
// [FileStore] keeps the credentials CBOR-encoded and age-encrypted
// (lib/sealed) to an identity generated on first use and persisted
// next to them. [Validator] checks a credential set against the
// server's /api/validate_device endpoint, and [Enroll] saves it only
// after the server accepts it. [Revalidator] re-checks the stored set
// on a cron schedule and warns when the server starts rejecting it.
//
// The token never appears in logs: [Credentials] implements
// slog.LogValuer and shows a blake3 fingerprint instead.
package credential
