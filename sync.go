// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import "time"

// Mutex is the cooperative lock of this module: ownership plus a FIFO wait queue,
// with handoff-on-unlock directly to the next waiter rather than letting
// a newly-runnable fiber race a fresh acquirer ("no barging").
//
// A Mutex is created through a Scheduler (see NewMutex) because its wait
// queue must be driven by that scheduler's baton loop; it is not safe to
// share a Mutex across two Schedulers.
type Mutex struct {
	sched   *Scheduler
	owner   *Fiber
	waiters *fiberList
}

// NewMutex creates a Mutex bound to s.
func (s *Scheduler) NewMutex() *Mutex {
	return &Mutex{sched: s, waiters: newFiberList()}
}

// Lock blocks the current fiber until it owns m. Waiters are granted the
// mutex strictly in FIFO arrival order (this module "no barging": a fiber woken
// by unlock becomes the owner directly, without re-competing against
// fibers that call Lock after it was woken but before it next runs).
func (m *Mutex) Lock() error {
	s := m.sched
	self := s.current
	if self.flags.has(flagInterrupted) {
		self.flags.clear(flagInterrupted)
		return opError("Lock", ErrInterrupted)
	}
	if m.owner == self {
		return opError("Lock", ErrDeadlock)
	}
	if m.owner == nil {
		m.owner = self
		return nil
	}
	self.state = stateLockWait
	self.waitQueue = m.waiters
	m.waiters.pushBack(&self.syncLink)
	s.yield(self)
	self.waitQueue = nil

	if self.flags.has(flagInterrupted) {
		self.flags.clear(flagInterrupted)
		// Interrupt only fails the wait if it actually won the race against
		// handoff: by the time this fiber got to run, Unlock may already
		// have made it the owner (Interrupt on an already-RUNNABLE fiber is
		// a no-op, see Interrupt), in which case it owns the mutex and must
		// not be told otherwise.
		if m.owner != self {
			return opError("Lock", ErrInterrupted)
		}
	}
	// Handoff already made self the owner (see Unlock); nothing further
	// to do.
	return nil
}

// TryLock attempts to acquire m without blocking, per this module's
// mutex_trylock: returns ErrBusy rather than parking if m is currently
// held.
func (m *Mutex) TryLock() error {
	if m.owner != nil {
		return opError("TryLock", ErrBusy)
	}
	m.owner = m.sched.current
	return nil
}

// Unlock releases m. If one or more fibers are waiting, ownership passes
// directly to the longest-waiting one (it is made RUNNABLE with
// ownership already assigned, never re-entering the acquisition race),
// per this module. Unlock by a non-owner is ErrPerm.
func (m *Mutex) Unlock() error {
	s := m.sched
	if m.owner != s.current {
		return opError("Unlock", ErrPerm)
	}
	next := m.waiters.popFront(func(f *Fiber) *listNode { return &f.syncLink })
	if next == nil {
		m.owner = nil
		return nil
	}
	m.owner = next
	next.state = stateRunnable
	s.runQueue.pushBack(&next.schedLink)
	return nil
}

// Cond is a condition variable: a bare FIFO wait queue with no coupling
// to any particular Mutex. The caller, not the primitive, is
// responsible for re-acquiring any associated lock after waking.
type Cond struct {
	sched   *Scheduler
	waiters *fiberList
}

// NewCond creates a Cond bound to s.
func (s *Scheduler) NewCond() *Cond { return s.newCond() }

func (s *Scheduler) newCond() *Cond {
	return &Cond{sched: s, waiters: newFiberList()}
}

// noTimeout (-1) passed to Wait blocks indefinitely; any value >= 0 is a
// relative timeout in microseconds, per this module's cond_timedwait.
func (c *Cond) Wait(timeoutUS int64) error {
	return c.sched.condWait(c, timeoutUS)
}

// condWait is the shared implementation behind Cond.Wait and Join's
// internal wait-for-zombie loop.
func (s *Scheduler) condWait(c *Cond, timeoutUS int64) error {
	self := s.current
	if self.flags.has(flagInterrupted) {
		self.flags.clear(flagInterrupted)
		return opError("Wait", ErrInterrupted)
	}
	self.state = stateCondWait
	self.waitQueue = c.waiters
	c.waiters.pushBack(&self.syncLink)

	timed := timeoutUS >= 0
	if timed {
		s.now()
		self.deadlineUS = s.lastClockUS + timeoutUS
		s.sleepHeap.insert(self)
	}

	s.yield(self)

	self.waitQueue = nil
	if self.flags.has(flagOnSleepHeap) {
		s.sleepHeap.delete(self)
	}
	c.waiters.remove(&self.syncLink)

	switch {
	case self.flags.has(flagInterrupted):
		self.flags.clear(flagInterrupted)
		return opError("Wait", ErrInterrupted)
	case timed && self.flags.has(flagTimedOut):
		self.flags.clear(flagTimedOut)
		return opError("Wait", ErrTimedOut)
	default:
		return nil
	}
}

// Signal wakes at most one waiter (the longest-waiting one), per this module.
// A no-op if nothing is waiting.
func (c *Cond) Signal() {
	c.sched.condSignalOne(c)
}

func (s *Scheduler) condSignalOne(c *Cond) {
	for {
		f := c.waiters.popFront(func(f *Fiber) *listNode { return &f.syncLink })
		if f == nil {
			return
		}
		// A waiter whose timeout already fired is RUNNABLE but still
		// queued until it resumes; skip it rather than spend the signal.
		if f.state != stateCondWait {
			continue
		}
		s.wakeCondWaiter(f)
		return
	}
}

// Broadcast wakes every current waiter, per this module.
func (c *Cond) Broadcast() {
	c.sched.broadcastLocked(c)
}

func (s *Scheduler) broadcastLocked(c *Cond) {
	for {
		f := c.waiters.popFront(func(f *Fiber) *listNode { return &f.syncLink })
		if f == nil {
			return
		}
		if f.state != stateCondWait {
			continue
		}
		s.wakeCondWaiter(f)
	}
}

func (s *Scheduler) wakeCondWaiter(f *Fiber) {
	if f.flags.has(flagOnSleepHeap) {
		s.sleepHeap.delete(f)
	}
	f.state = stateRunnable
	s.runQueue.pushBack(&f.schedLink)
}

// Destroy releases c's resources. Per this module's cond_destroy, destroying a
// condvar with waiters still queued is ErrBusy; callers must drain
// waiters (signal/broadcast/interrupt) first.
func (c *Cond) Destroy() error {
	if !c.waiters.empty() {
		return opError("Destroy", ErrBusy)
	}
	return nil
}

// helper kept for call sites that think in time.Duration rather than raw
// microseconds when calling Cond.Wait, e.g. the tests.
func usFromDuration(d time.Duration) int64 { return d.Microseconds() }
