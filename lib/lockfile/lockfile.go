// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

// Package lockfile holds an exclusive flock(2) on a file for the life
// of a process. The kernel drops the lock when the process exits, so a
// crashed agent never leaves a stale lock behind.
package lockfile

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("lockfile: held by another process")

// Lock is a held lock. Release it with Release.
type Lock struct {
	path string
	fd   int
}

// Acquire opens (creating if needed) the file at path and takes a
// non-blocking exclusive lock on it. The holder's PID is written into
// the file for diagnostics.
func Acquire(path string) (*Lock, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: opening %s: %w", path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lockfile: locking %s: %w", path, err)
	}

	if err := unix.Ftruncate(fd, 0); err == nil {
		unix.Pwrite(fd, []byte(strconv.Itoa(unix.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, fd: fd}, nil
}

// Path returns the locked file's path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. The file is left in place: removing it would
// race with a process that has opened it but not yet locked it.
func (l *Lock) Release() error {
	if l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("lockfile: unlocking %s: %w", l.path, err)
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("lockfile: closing %s: %w", l.path, err)
	}
	return nil
}
