// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region marked MADV_DONTDUMP and,
// where the memory lock limit allows, mlocked so it is never swapped.
// Close zeroes and unmaps it; any access after Close panics. The agent
// keeps its age identity in one for the life of the process, and the
// enroll command reads the device token into one.
//
// Devices often run with a small RLIMIT_MEMLOCK. When mlock is refused
// the buffer is still allocated and [Buffer.Locked] reports false.
package secret
