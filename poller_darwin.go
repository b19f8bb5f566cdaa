// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package fiberloop

import (
	"golang.org/x/sys/unix"
)

// kqueueBackend implements the backend contract on Darwin/BSD using
// kqueue; like epollBackend it reports raw readiness only, leaving
// I/O-queue scanning and one-shot consumption to io.go.
type kqueueBackend struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	applied  map[int]ioKind // last mask actually registered with the kernel, per fd
}

func newKqueueBackend() *kqueueBackend {
	return &kqueueBackend{kq: -1}
}

func (b *kqueueBackend) open() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return ioError("kqueue", err)
	}
	unix.CloseOnExec(kq)
	b.kq = kq
	return nil
}

func (b *kqueueBackend) closeBackend() error {
	if b.kq < 0 {
		return nil
	}
	err := unix.Close(b.kq)
	b.kq = -1
	return ioError("kqueue_close", err)
}

func (b *kqueueBackend) wait(timeoutMs int, out []readyEvent) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64(timeoutMs%1000) * 1000000,
		}
	}
	n, err := unix.Kevent(b.kq, nil, b.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, ioError("kevent", err)
	}
	count := 0
	for i := 0; i < n && count < len(out); i++ {
		ev := &b.eventBuf[i]
		kind, errHup := keventToKind(ev)
		out[count] = readyEvent{fd: int(ev.Ident), events: kind, errHup: errHup}
		count++
	}
	return count, nil
}

func (b *kqueueBackend) ctlAdd(fd int, mask ioKind) error {
	return b.applyDelta(fd, 0, mask)
}

func (b *kqueueBackend) ctlMod(fd int, mask ioKind) error {
	// kqueue has no notion of "modify"; this module's contract only requires
	// that the aggregated mask converge, so add what's newly wanted and
	// delete what's no longer wanted. The caller (eventRegistry) already
	// knows only the aggregate, so kqueueBackend tracks the previously
	// applied mask per fd to compute the delta.
	prev := b.applied[fd]
	return b.applyDelta(fd, prev, mask)
}

func (b *kqueueBackend) ctlDel(fd int) error {
	return b.applyDelta(fd, b.applied[fd], 0)
}

func (b *kqueueBackend) applyDelta(fd int, prev, next ioKind) error {
	var changes []unix.Kevent_t
	add := next &^ prev
	del := prev &^ next
	if add.has(ioRead) {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE))
	}
	if add.has(ioWrite) {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE))
	}
	if del.has(ioRead) {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if del.has(ioWrite) {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	if b.applied == nil {
		b.applied = make(map[int]ioKind)
	}
	if next == 0 {
		delete(b.applied, fd)
	} else {
		b.applied[fd] = next
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	return ioError("kevent_ctl", err)
}

func (b *kqueueBackend) limit() int {
	return fdGetLimit()
}

func (b *kqueueBackend) reopen() error {
	if b.kq >= 0 {
		_ = unix.Close(b.kq)
	}
	b.kq = -1
	b.applied = nil
	return b.open()
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func keventToKind(ev *unix.Kevent_t) (k ioKind, errHup bool) {
	switch ev.Filter {
	case unix.EVFILT_READ:
		k = ioRead
	case unix.EVFILT_WRITE:
		k = ioWrite
	}
	if ev.Flags&(unix.EV_ERROR|unix.EV_EOF) != 0 {
		errHup = true
	}
	return k, errHup
}

func newBackend() backend { return newKqueueBackend() }
