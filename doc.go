// Package fiberloop is a single-process, cooperative user-space
// scheduler for lightweight fibers, modeled on the state-threads
// library: one fiber runs at a time, switches happen only at explicit
// yield points (sleep, I/O wait, lock/condvar contention, or an
// explicit yield), and there is no preemption, priority, or work
// stealing.
//
// # Architecture
//
// A [Scheduler], created with [New], owns a run queue, a sleep heap
// keyed by absolute deadline, an I/O wait queue backed by a
// platform-native readiness multiplexer (epoll on Linux, kqueue on
// Darwin), and a zombie queue of exited-but-unjoined fibers. Exactly one
// goroutine's worth of application logic runs at any instant: every
// other fiber's goroutine is parked on a buffered channel waiting for
// the scheduler to hand it the baton (see scheduler.go's yield/pickNext
// pair). This makes the scheduler's own queues and the synchronization
// primitives in sync.go lock-free by construction, without actually
// running fiber bodies in parallel.
//
// [Scheduler.Create] starts a new fiber; [Scheduler.Join] waits for a
// joinable one to exit; [Scheduler.Interrupt] wakes a fiber out of
// whatever it is waiting on. [Mutex] and [Cond] provide cooperative
// locking and condition variables with FIFO wait queues and no barging.
// [Scheduler.Poll] parks the current fiber on a set of file descriptors;
// [Scheduler.Read], [Scheduler.Write], and [Scheduler.Accept] are
// convenience wrappers around the non-blocking-attempt-then-Poll
// pattern.
//
// # Platform support
//
// I/O readiness is multiplexed using platform-native mechanisms:
//   - Linux: epoll
//   - Darwin: kqueue
//
// # Usage
//
//	sched, err := fiberloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	done := make(chan struct{})
//	sched.Create(func(any) any {
//	    fmt.Println("hello from a fiber")
//	    close(done)
//	    return nil
//	}, nil, false, 0)
//
//	sched.Run()
//	<-done
//
// # Error types
//
// Sentinel errors ([ErrInvalidArg], [ErrBusy], [ErrPerm], [ErrDeadlock],
// [ErrInterrupted], [ErrTimedOut], [ErrIOError], [ErrNoMemory],
// [ErrNotRunning]) cover the condition space a POSIX-style threading
// library signals through errno; operation-level context is layered on
// with [errors.Unwrap]-compatible wrapping so callers can still use
// [errors.Is] against the sentinels.
package fiberloop
