// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the beacon agent.
//
// Variables are injected at build time with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/beacon/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/beacon-agent
//
// They default to "unknown" / "0.1.0-dev" in development builds and
// tests. [UserAgent] is the value the transport sends with every
// request, so server logs can tell agent releases apart.
package version
