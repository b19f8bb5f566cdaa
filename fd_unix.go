// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package fiberloop

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor on Unix systems.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor on Unix systems.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor on Unix systems.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// wouldBlock reports whether err is the would-block error a non-blocking
// syscall returns, which is the signal for the I/O wrapper recipes 
// to fall back to Poll.
func wouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// fdGetLimit implements this module's fd_getlimit contract: the OS's current
// soft limit on open file descriptors, or 0 meaning unlimited.
func fdGetLimit() int {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	if rl.Cur == syscall.RLIM_INFINITY || rl.Cur > 1<<31 {
		return 0
	}
	return int(rl.Cur)
}
