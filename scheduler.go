// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import (
	"fmt"
	"os"
	"time"
)

// Scheduler is the coupled system of this module: fiber lifecycle, the sleep heap,
// the I/O wait mechanism and its event-system backend, and the run/I/O/
// zombie queues they all share. Exactly one *Scheduler exists per Run.
//
// As documented in this package's design notes, there is no separate "scheduler
// goroutine": whichever fiber's goroutine currently holds the baton
// executes the scheduling decision inline, the moment it parks. This
// keeps the invariant of this module literally true in this Go realization — only
// the single goroutine that is "currently RUNNING" ever touches these
// queues, so none of them need a mutex.
type Scheduler struct {
	runQueue    *fiberList
	ioQueue     *fiberList
	zombieQueue *fiberList
	sleepHeap   *sleepHeap
	registry    *eventRegistry
	backend     backend
	stacks      *stackPool

	current    *Fiber
	primordial *Fiber
	idle       *Fiber
	// primordialParked holds the primordial fiber while Run is blocked
	// waiting for activeCount to drain to 0; pickNext only ever returns
	// it once the run queue is empty and nothing is left active, so the
	// calling goroutine is not competing for turns against fibers it is
	// waiting on (see Run in runtime.go).
	primordialParked *Fiber

	activeCount int
	nextID      uint64
	nextKey     int
	destructors [keyLimit]func(any)

	timeSource  func() time.Time
	lastClockUS int64
	timeCacheOn bool
	cacheUS     int64
	cacheAt     time.Time

	forkPID int

	opts   runtimeOptions
	stats  *schedulerStats
	logger Logger

	running    bool
	defaultSzB int
}

// New constructs a Scheduler and its primordial fiber, applying opts.
// Construction does not start I/O or run any fiber body; call Run to do
// that (this runtime's "init").
func New(opts ...Option) (*Scheduler, error) {
	cfg := defaultRuntimeOptions()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}

	s := &Scheduler{
		runQueue:    newFiberList(),
		ioQueue:     newFiberList(),
		zombieQueue: newFiberList(),
		sleepHeap:   newSleepHeap(),
		stacks:      newStackPool(cfg.randomizeStacks, nil),
		timeSource:  cfg.timeSource,
		timeCacheOn: cfg.timeCacheOn,
		opts:        cfg,
		stats:       newSchedulerStats(),
		logger:      cfg.logger,
		forkPID:     os.Getpid(),
		defaultSzB:  cfg.defaultStackSize,
	}
	if s.timeSource == nil {
		s.timeSource = time.Now
	}
	if s.logger == nil {
		s.logger = NewNoOpLogger()
	}

	b := newBackend()
	if err := b.open(); err != nil {
		return nil, opError("New", err)
	}
	s.backend = b
	s.registry = newEventRegistry(b)

	s.primordial = s.newFiberRecord(nil, nil, false)
	s.primordial.flags.set(flagPrimordial)
	s.primordial.state = stateRunning
	s.current = s.primordial
	// The primordial fiber is not counted in activeCount: it represents
	// the calling goroutine itself, never goes through finishExit, and
	// this runtime's "active_count reaches 0 -> terminate" rule is meant to fire
	// once every fiber *created* by the caller has finished, not blocked
	// on the primordial fiber somehow exiting too.
	s.activeCount = 0

	s.idle = s.newFiberRecord(nil, nil, false)
	s.idle.flags.set(flagIdle)
	s.idle.entry = func(any) any { s.idleLoop(); return nil }
	s.spawnGoroutine(s.idle)

	return s, nil
}

func (s *Scheduler) newFiberRecord(entry func(arg any) any, arg any, joinable bool) *Fiber {
	s.nextID++
	f := &Fiber{
		id:       s.nextID,
		sched:    s,
		state:    stateRunnable,
		entry:    entry,
		arg:      arg,
		joinable: joinable,
		resume:   make(chan struct{}, 1),
	}
	f.heapIndex = -1
	f.schedLink.owner = f
	f.syncLink.owner = f
	return f
}

// Self returns the currently running fiber.
func (s *Scheduler) Self() *Fiber { return s.current }

// FDLimit implements this module's fd_limit entrypoint: the caller-configured
// override (WithFDLimit) if set, otherwise the OS-reported soft limit.
func (s *Scheduler) FDLimit() int {
	if s.opts.fdLimit > 0 {
		return s.opts.fdLimit
	}
	return s.backend.limit()
}

// Stats returns a snapshot of scheduler observability counters: queue
// depths, sleep-heap occupancy, and context-switch latency percentiles.
func (s *Scheduler) Stats() Stats { return s.stats.snapshot(s) }

// FDNew ensures the registry has bookkeeping capacity for osfd, per this module's
// fd_new. Poll/Read/Write/Accept create the same bookkeeping implicitly
// (through the registry's pollsetAdd) the first time a fd is used;
// calling it ahead of time is only useful to reserve capacity
// eagerly (e.g. right after accepting a connection).
func (s *Scheduler) FDNew(osfd int) error {
	if err := s.registry.fdNew(osfd); err != nil {
		return opError("FDNew", err)
	}
	return nil
}

// FDClose releases osfd's registry bookkeeping, per this module's fd_close. It
// fails ErrBusy if any interest (from a still-parked Poll) remains
// registered against osfd; callers must let that interest drain (or
// Interrupt the waiter) before closing.
func (s *Scheduler) FDClose(osfd int) error {
	return s.registry.fdClose(osfd)
}

// Create makes a new fiber runnable, per this module's create. The fiber begins
// execution the next time the scheduler picks it off the run queue.
func (s *Scheduler) Create(entry func(arg any) any, arg any, joinable bool, stackSize int) (*Fiber, error) {
	if entry == nil {
		return nil, opError("Create", ErrInvalidArg)
	}
	if stackSize <= 0 {
		stackSize = s.defaultSzB
	}
	f := s.newFiberRecord(entry, arg, joinable)
	stk, err := s.stacks.acquire(stackSize)
	if err != nil {
		return nil, opError("Create", ErrNoMemory)
	}
	f.stack = stk
	if joinable {
		f.termCond = s.newCond()
	}
	s.activeCount++
	s.runQueue.pushBack(&f.schedLink)
	s.spawnGoroutine(f)
	s.logDebug("fiber", "fiber created", "id", f.id, "joinable", joinable)
	return f, nil
}

// spawnGoroutine starts the goroutine that backs f's logical stack. It
// blocks immediately on f.resume; nothing of f's entry function runs
// until the scheduler grants it the baton.
func (s *Scheduler) spawnGoroutine(f *Fiber) {
	go func() {
		<-f.resume
		if f.entry == nil {
			s.finishExit(f)
			return
		}
		s.runEntryWithExit(f)
	}()
}

// Exit is called by the currently running fiber's entry function to
// terminate early with retval, equivalent to returning retval from entry.
// It never returns to the caller.
func (s *Scheduler) Exit(retval any) {
	s.current.retval = retval
	panic(fiberExitSignal{})
}

// fiberExitSignal unwinds the current fiber's goroutine stack via panic
// so that deferred cleanup (closing resources the fiber holds) still
// runs, the same way a normal return from entry would trigger it, before
// finishExit takes over on the scheduler side.
type fiberExitSignal struct{}

func (s *Scheduler) runEntryWithExit(f *Fiber) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(fiberExitSignal); !ok {
				f.panicVal = r
			}
		}
		s.finishExit(f)
	}()
	f.retval = f.entry(f.arg)
}

// finishExit performs the cleanup in this module's thread_exit, run on the
// exiting fiber's own goroutine (which, by the baton invariant, is the
// only goroutine running at this instant, so it is safe for it to mutate
// scheduler state directly).
func (s *Scheduler) finishExit(f *Fiber) {
	if f.panicVal != nil {
		// A fiber body panicking leaves its goroutine's stack in an
		// unknown state, the same irrecoverable category this module
		// reserves for a failed context swap or a scheduler invariant
		// violation: abort rather than try to keep scheduling the rest
		// of the run queue against state a panic may have corrupted.
		s.logError("fiber", "fiber panicked; aborting process", "id", f.id, "err", fmt.Errorf("%v", f.panicVal))
		panic(f.panicVal)
	}

	s.runFLSDestructors(f)
	s.activeCount--
	s.logDebug("fiber", "fiber exit", "id", f.id, "joinable", f.joinable, "active", s.activeCount)

	if f.joinable {
		f.state = stateZombie
		s.zombieQueue.pushBack(&f.schedLink)
		s.broadcastLocked(f.termCond)
		s.yield(f)
		// Resumed only after Join has reaped us and re-enqueued us
		// RUNNABLE; destroy the termination condvar now that no further
		// joiner can observe it .
		f.termCond = nil
	}

	s.stacks.release(f.stack)
	f.stack = nil
	// f never runs again, so the terminal handoff must not block waiting
	// for its own resume channel the way a normal yield does; hand the
	// baton off and let this goroutine return, ending it.
	s.yieldFinal()
}

// Join implements this module's thread_join.
func (s *Scheduler) Join(target *Fiber) (any, error) {
	if target == nil || !target.joinable {
		return nil, opError("Join", ErrInvalidArg)
	}
	if target == s.current {
		return nil, opError("Join", ErrDeadlock)
	}
	if target.joinerKnown {
		return nil, opError("Join", ErrInvalidArg)
	}
	target.joinerKnown = true

	for target.state != stateZombie {
		if err := s.condWait(target.termCond, noTimeout); err != nil {
			target.joinerKnown = false
			return nil, opError("Join", err)
		}
	}

	retval := target.retval
	s.zombieQueue.remove(&target.schedLink)
	target.state = stateRunnable
	s.runQueue.pushBack(&target.schedLink)
	return retval, nil
}

// Interrupt implements this module's thread_interrupt.
func (s *Scheduler) Interrupt(target *Fiber) {
	if target == nil || target.state == stateZombie {
		return
	}
	target.flags.set(flagInterrupted)
	switch target.state {
	case stateRunning, stateRunnable:
		// Observed on the target's next parking call; nothing more to
		// do right now.
	default:
		if target.flags.has(flagOnSleepHeap) {
			s.sleepHeap.delete(target)
		}
		s.unparkFrom(target)
		target.state = stateRunnable
		s.runQueue.pushBack(&target.schedLink)
	}
}

// unparkFrom removes target from whatever wait structure its current
// state implies it is sitting on (I/O queue or a sync wait queue), ahead
// of forcing it back to RUNNABLE. Scheduler-queue membership (run/io/
// zombie) is handled by schedLink; sync-queue membership by syncLink.
func (s *Scheduler) unparkFrom(target *Fiber) {
	if target.onIOQueue {
		s.ioQueue.remove(&target.schedLink)
		target.onIOQueue = false
		s.registry.pollsetDel(target.pollFDs)
		target.pollFDs = nil
	}
	s.syncQueueOf(target).remove(&target.syncLink)
}

// syncQueueOf returns the sync wait queue recorded in f.waitQueue by
// sync.go's Lock/condWait at park time, or an empty list when f is not
// parked on one.
func (s *Scheduler) syncQueueOf(f *Fiber) *fiberList {
	if f.waitQueue != nil {
		return f.waitQueue
	}
	return emptySyncQueue
}

var emptySyncQueue = newFiberList()

// yield is the symmetric context switch of this module: the caller (self) has
// already updated its own state and queue membership; yield picks the
// next fiber to run (or the idle fiber) and blocks self until it is
// resumed again.
func (s *Scheduler) yield(self *Fiber) {
	start := s.now()
	next := s.pickNext()
	s.current = next
	next.state = stateRunning
	next.resume <- struct{}{}

	if self == next {
		// pickNext returns self when self linked itself onto the run
		// queue before yielding and nothing else is runnable: the idle
		// fiber after a dispatch pass that woke nobody, or USleep(0) with
		// no other runnable fiber. Consume the token just sent so it
		// cannot satisfy self's next wait on resume.
		<-self.resume
		return
	}
	<-self.resume
	s.stats.recordSwitch(time.Since(start))
}

// yieldFinal hands the baton to the next fiber without waiting to be
// resumed again, for use only by a fiber's terminal context switch in
// finishExit: that goroutine returns (and ends) immediately after, so
// parking on its own resume channel would leak the goroutine forever.
func (s *Scheduler) yieldFinal() {
	next := s.pickNext()
	s.current = next
	next.state = stateRunning
	next.resume <- struct{}{}
}

// pickNext implements schedule_loop's selection rule: run queue head;
// otherwise the parked primordial fiber if every created fiber has
// finished and it is waiting to be told so; otherwise the idle fiber.
func (s *Scheduler) pickNext() *Fiber {
	if f := s.runQueue.popFront(func(f *Fiber) *listNode { return &f.schedLink }); f != nil {
		return f
	}
	if s.activeCount == 0 && s.primordialParked != nil {
		p := s.primordialParked
		s.primordialParked = nil
		return p
	}
	return s.idle
}

// now reads the time source live (it never consults the time cache) and
// refreshes lastClockUS.
func (s *Scheduler) now() time.Time {
	t := s.timeSource()
	s.lastClockUS = t.UnixMicro()
	return t
}

// checkClock implements this module's check_clock: refresh the clock, and wake
// every fiber whose deadline has elapsed.
func (s *Scheduler) checkClock() {
	s.now()
	s.refreshTimeCache()
	for {
		f := s.sleepHeap.peek()
		if f == nil || f.deadlineUS > s.lastClockUS {
			return
		}
		s.sleepHeap.delete(f)
		// flagTimedOut only applies to COND_WAIT : a timed-out Poll is not
		// a failure condition, so an I/O-waiting fiber is simply made
		// runnable with an empty result set, no flag to observe.
		if f.state == stateCondWait {
			f.flags.set(flagTimedOut)
		}
		if f.state == stateIOWait {
			s.ioQueue.remove(&f.schedLink)
			s.registry.pollsetDel(f.pollFDs)
			f.pollFDs = nil
			f.onIOQueue = false
		}
		f.state = stateRunnable
		s.runQueue.pushBack(&f.schedLink)
	}
}

func (s *Scheduler) checkFork() {
	pid := os.Getpid()
	if pid == s.forkPID {
		return
	}
	s.forkPID = pid
	if err := s.registry.rebuild(); err != nil {
		panic(fmt.Sprintf("fiberloop: fatal fork-recovery failure: %v", err))
	}
}

const noTimeout = -1
