// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package fiberloop

import (
	"golang.org/x/sys/unix"
)

// epollBackend implements the backend contract on Linux using epoll.
// This runtime dispatches by scanning the I/O queue itself (see io.go),
// so the backend's job shrinks to translating ref-counted masks into
// EPOLL_CTL_ADD/MOD/DEL and returning raw readiness, rather than owning
// per-fd callbacks.
type epollBackend struct {
	epfd     int
	eventBuf [256]unix.EpollEvent
}

func newEpollBackend() *epollBackend {
	return &epollBackend{epfd: -1}
}

func (b *epollBackend) open() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return ioError("epoll_create1", err)
	}
	b.epfd = fd
	return nil
}

func (b *epollBackend) closeBackend() error {
	if b.epfd < 0 {
		return nil
	}
	err := unix.Close(b.epfd)
	b.epfd = -1
	return ioError("epoll_close", err)
}

func (b *epollBackend) wait(timeoutMs int, out []readyEvent) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, ioError("epoll_wait", err)
	}
	count := 0
	for i := 0; i < n && count < len(out); i++ {
		ev := b.eventBuf[i]
		kind, errHup := epollToKind(ev.Events)
		out[count] = readyEvent{fd: int(ev.Fd), events: kind, errHup: errHup}
		count++
	}
	return count, nil
}

func (b *epollBackend) ctlAdd(fd int, mask ioKind) error {
	ev := unix.EpollEvent{Events: kindToEpoll(mask), Fd: int32(fd)}
	return ioError("epoll_ctl_add", unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (b *epollBackend) ctlMod(fd int, mask ioKind) error {
	ev := unix.EpollEvent{Events: kindToEpoll(mask), Fd: int32(fd)}
	return ioError("epoll_ctl_mod", unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (b *epollBackend) ctlDel(fd int) error {
	return ioError("epoll_ctl_del", unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (b *epollBackend) limit() int {
	return fdGetLimit()
}

// reopen recreates the epoll instance after a detected fork (this module, the old
// descriptor does not survive into the child).
func (b *epollBackend) reopen() error {
	if b.epfd >= 0 {
		_ = unix.Close(b.epfd)
	}
	b.epfd = -1
	return b.open()
}

func kindToEpoll(k ioKind) uint32 {
	var e uint32
	if k.has(ioRead) {
		e |= unix.EPOLLIN
	}
	if k.has(ioWrite) {
		e |= unix.EPOLLOUT
	}
	if k.has(ioExcept) {
		e |= unix.EPOLLPRI
	}
	return e
}

// epollToKind translates raw epoll bits into our ioKind plus a flag for
// EPOLLERR/EPOLLHUP. Folding err/hup into "all currently interested bits
// on that fd" (this module Open Question) is deferred to dispatch() in
// io.go, which has the registry's current interest mask for the fd; the
// backend only reports what the kernel actually returned.
func epollToKind(e uint32) (k ioKind, errHup bool) {
	if e&unix.EPOLLIN != 0 {
		k |= ioRead
	}
	if e&unix.EPOLLOUT != 0 {
		k |= ioWrite
	}
	if e&unix.EPOLLPRI != 0 {
		k |= ioExcept
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		errHup = true
	}
	return k, errHup
}

func newBackend() backend { return newEpollBackend() }
