// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

// fiberState is one of the eight states a Fiber may occupy: a small
// integer set mutated by direct assignment. It is deliberately not
// atomic, because the runtime's single-baton invariant (only the
// RUNNING fiber mutates shared state) means no two goroutines ever touch
// a Fiber's state field at the same instant — only whichever goroutine
// currently holds the baton does, and it is serialized by construction,
// not by a lock.
type fiberState uint32

const (
	stateRunning fiberState = iota
	stateRunnable
	stateIOWait
	stateLockWait
	stateCondWait
	stateSleeping
	stateZombie
	stateSuspended
)

func (s fiberState) String() string {
	switch s {
	case stateRunning:
		return "RUNNING"
	case stateRunnable:
		return "RUNNABLE"
	case stateIOWait:
		return "IO_WAIT"
	case stateLockWait:
		return "LOCK_WAIT"
	case stateCondWait:
		return "COND_WAIT"
	case stateSleeping:
		return "SLEEPING"
	case stateZombie:
		return "ZOMBIE"
	case stateSuspended:
		return "SUSPENDED"
	default:
		return "UNKNOWN"
	}
}

// flagBits is the bitset over {PRIMORDIAL, IDLE, ON_SLEEP_HEAP,
// INTERRUPTED, TIMED_OUT} from this module.
type flagBits uint32

const (
	flagPrimordial flagBits = 1 << iota
	flagIdle
	flagOnSleepHeap
	flagInterrupted
	flagTimedOut
)

// flagSet is a plain (non-atomic, see fiberState doc) bitset wrapper.
type flagSet struct{ bits flagBits }

func (f *flagSet) has(b flagBits) bool { return f.bits&b != 0 }
func (f *flagSet) set(b flagBits)      { f.bits |= b }
func (f *flagSet) clear(b flagBits)    { f.bits &^= b }

// keyLimit is the small, compile-time constant on the number of
// fiber-local storage keys the process may create (this module: "a small
// compile-time constant (e.g., 16)").
const keyLimit = 16

// Fiber is a lightweight unit of cooperative execution with its own
// (goroutine-backed) stack and context, per this module.
//
// A Fiber is never copied; callers hold and pass *Fiber. Exactly one
// Fiber is RUNNING at any instant across the whole process, enforced by
// the Scheduler's baton handoff (see scheduler.go).
type Fiber struct {
	id     uint64
	sched  *Scheduler
	state  fiberState
	flags  flagSet
	entry  func(arg any) any
	arg    any
	retval any

	// schedLink is this fiber's membership in at most one of {run queue,
	// I/O queue, zombie queue} (this module invariant).
	schedLink listNode
	// syncLink is this fiber's membership in at most one synchronization
	// (mutex or condvar) wait queue.
	syncLink listNode
	// waitQueue is the *fiberList syncLink currently belongs to (a Mutex's
	// or Cond's wait queue), or nil when not parked on one. Interrupt uses
	// it to unlink a fiber without needing to know which primitive it is
	// waiting on.
	waitQueue *fiberList

	// Sleep heap bookkeeping (array-backed, see sleepheap.go).
	deadlineUS int64
	heapIndex  int
	sleepSeq   uint64

	// I/O-wait bookkeeping: the poll-request record described in this module,
	// inlined directly onto the fiber rather than allocated separately.
	pollFDs      []pollFD
	onIOQueue    bool
	readyResults []pollFD

	// Fiber-local storage.
	keys [keyLimit]any

	// Join support: a joinable fiber's termination condvar, exclusively
	// owned by the fiber itself until destroyed after reaping.
	joinable    bool
	termCond    *Cond
	joinerKnown bool

	stack *stackSlot

	// resume is the baton: the scheduler (or the fiber that is yielding)
	// sends on it to grant this fiber its next turn. Buffered to 1 so the
	// sender never blocks on a receiver that hasn't reached its parking
	// point yet.
	resume chan struct{}

	// panicVal carries a recovered panic out of the fiber's goroutine so
	// the scheduler can treat it as the irrecoverable condition this module
	// designates ("failed context swap, scheduler invariant violations:
	// process abort"); a fiber body panicking counts as the analogous
	// "the stack is no longer in a known-good state" case.
	panicVal any
}

func (f *Fiber) String() string {
	if f == nil {
		return "<nil fiber>"
	}
	return fiberLabel(f)
}

func fiberLabel(f *Fiber) string {
	switch {
	case f.flags.has(flagPrimordial):
		return "fiber(primordial)"
	case f.flags.has(flagIdle):
		return "fiber(idle)"
	default:
		return "fiber"
	}
}

// Interrupted reports whether the caller's own INTERRUPTED flag is
// currently set, without clearing it. Mostly useful for I/O wrapper
// recipes that want to bail out of a retry loop early.
func (f *Fiber) Interrupted() bool {
	return f.flags.has(flagInterrupted)
}
