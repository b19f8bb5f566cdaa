// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal in-memory backend double, used to exercise
// eventRegistry's ref-counting and rollback logic without a real
// epoll/kqueue descriptor.
type fakeBackend struct {
	added      map[int]ioKind
	addCalls   []int
	delCalls   []int
	failAddFor int // fd that ctlAdd/ctlMod should fail for, or 0 for none
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{added: make(map[int]ioKind)}
}

func (b *fakeBackend) open() error          { return nil }
func (b *fakeBackend) closeBackend() error  { return nil }
func (b *fakeBackend) limit() int           { return 1024 }
func (b *fakeBackend) reopen() error        { return nil }
func (b *fakeBackend) wait(int, []readyEvent) (int, error) { return 0, nil }

func (b *fakeBackend) ctlAdd(fd int, mask ioKind) error {
	if fd == b.failAddFor {
		return ioError("ctl_add", errors.New("fake backend failure"))
	}
	b.addCalls = append(b.addCalls, fd)
	b.added[fd] = mask
	return nil
}

func (b *fakeBackend) ctlMod(fd int, mask ioKind) error {
	if fd == b.failAddFor {
		return ioError("ctl_mod", errors.New("fake backend failure"))
	}
	b.added[fd] = mask
	return nil
}

func (b *fakeBackend) ctlDel(fd int) error {
	b.delCalls = append(b.delCalls, fd)
	delete(b.added, fd)
	return nil
}

// TestPollsetAddDelIsIdentity exercises testable property 10: add then del
// of the same interest set leaves both the per-fd ref-counted state and the
// backend's own registration exactly as they were.
func TestPollsetAddDelIsIdentity(t *testing.T) {
	b := newFakeBackend()
	r := newEventRegistry(b)
	fds := []pollFD{{fd: 7, events: ioRead | ioWrite}}

	require.NoError(t, r.pollsetAdd(fds))
	assert.Equal(t, ioRead|ioWrite, r.interestMask(7))
	assert.Len(t, b.added, 1)

	r.pollsetDel(fds)
	assert.Equal(t, ioKind(0), r.interestMask(7))
	assert.Empty(t, b.added)
}

// TestInterestMaskMatchesRefCounts exercises testable property 5: the
// aggregated interest mask always equals the OR of which ref counts are
// nonzero, across overlapping registrations from independent callers.
func TestInterestMaskMatchesRefCounts(t *testing.T) {
	b := newFakeBackend()
	r := newEventRegistry(b)

	require.NoError(t, r.pollsetAdd([]pollFD{{fd: 3, events: ioRead}}))
	require.NoError(t, r.pollsetAdd([]pollFD{{fd: 3, events: ioWrite}}))
	assert.Equal(t, ioRead|ioWrite, r.interestMask(3))

	r.pollsetDel([]pollFD{{fd: 3, events: ioRead}})
	assert.Equal(t, ioWrite, r.interestMask(3))

	r.pollsetDel([]pollFD{{fd: 3, events: ioWrite}})
	assert.Equal(t, ioKind(0), r.interestMask(3))
}

// TestPollsetAddRollsBackPartialFailure exercises the backend-error policy:
// a mid-batch ctlAdd failure rolls back the ref-count increments already
// applied for the prefix that succeeded.
func TestPollsetAddRollsBackPartialFailure(t *testing.T) {
	b := newFakeBackend()
	b.failAddFor = 9
	r := newEventRegistry(b)

	err := r.pollsetAdd([]pollFD{
		{fd: 5, events: ioRead},
		{fd: 9, events: ioRead},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIOError)
	assert.Equal(t, ioKind(0), r.interestMask(5))
	assert.Equal(t, ioKind(0), r.interestMask(9))
}

// TestFDCloseFailsBusyWithLiveInterest exercises fd_close's contract: it
// refuses to drop bookkeeping while any reference count is still nonzero.
func TestFDCloseFailsBusyWithLiveInterest(t *testing.T) {
	b := newFakeBackend()
	r := newEventRegistry(b)
	require.NoError(t, r.pollsetAdd([]pollFD{{fd: 11, events: ioRead}}))

	assert.ErrorIs(t, r.fdClose(11), ErrBusy)

	r.pollsetDel([]pollFD{{fd: 11, events: ioRead}})
	assert.NoError(t, r.fdClose(11))
}
