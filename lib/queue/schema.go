// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

// Times are stored as Unix nanoseconds in UTC.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	key              TEXT    NOT NULL UNIQUE,
	device_id        TEXT    NOT NULL,
	phone            TEXT    NOT NULL,
	lat              REAL    NOT NULL,
	lng              REAL    NOT NULL,
	token            TEXT    NOT NULL,
	captured_at      INTEGER NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	state            INTEGER NOT NULL,
	next_eligible_at INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	last_error       TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS jobs_by_state ON jobs (state, id);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      INTEGER NOT NULL,
	key         TEXT    NOT NULL,
	device_id   TEXT    NOT NULL,
	lat         REAL    NOT NULL,
	lng         REAL    NOT NULL,
	captured_at INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	reason      TEXT    NOT NULL,
	last_error  TEXT    NOT NULL,
	recorded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

const jobColumns = `id, key, device_id, phone, lat, lng, token, captured_at,
	attempts, state, next_eligible_at, created_at, last_error`

const (
	counterDelivered = "delivered"
	counterAbandoned = "abandoned"
	counterEvicted   = "evicted"
)
