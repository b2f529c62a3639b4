// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the agent's SQLite database.
//
// It is a thin layer over zombiezen.com/go/sqlite's sqlitex.Pool that
// fixes the pragmas the delivery queue depends on and applies the
// caller's schema once, eagerly, so a broken database fails at Open
// rather than on the first sample.
//
// Every connection gets:
//
//   - journal_mode=WAL, so status reads never block the worker's writes.
//   - synchronous=FULL. A sample acknowledged by Enqueue must survive
//     a power cut, and NORMAL only guarantees that for process crashes
//     in WAL mode.
//   - busy_timeout=5000, so concurrent writers wait instead of failing
//     with SQLITE_BUSY.
//   - foreign_keys=ON.
//
// Connections are not safe for concurrent use: Take one, use it from
// one goroutine, Put it back.
package sqlitepool
