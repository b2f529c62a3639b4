// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestDirtyBuildsAreMarked(t *testing.T) {
	original := GitDirty
	t.Cleanup(func() { GitDirty = original })

	GitDirty = "false"
	if strings.Contains(info(), "-dirty") {
		t.Errorf("clean build reported dirty: %s", info())
	}
	GitDirty = "true"
	if !strings.Contains(info(), GitCommit+"-dirty") {
		t.Errorf("dirty build not marked: %s", info())
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); !strings.HasPrefix(got, "beacon-agent/"+Version+" (") {
		t.Errorf("UserAgent = %q", got)
	}
}

func TestFullNamesPlatform(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, info()+"\n") || !strings.Contains(full, "Platform: "+runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Full = %q", full)
	}
}
