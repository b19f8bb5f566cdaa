// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import "time"

// NowUS returns the current time as microseconds since the Unix epoch,
// read live from the configured time source . Unlike
// LastClockUS this always queries the source; it never reads the cache.
func (s *Scheduler) NowUS() int64 {
	return s.timeSource().UnixMicro()
}

// LastClockUS returns the clock value the scheduler read most recently
// (check_clock passes, context switches and deadline computations all
// refresh it), without touching the time source.
func (s *Scheduler) LastClockUS() int64 {
	return s.lastClockUS
}

// USleep parks the current fiber for at least us microseconds (this module's
// thread_usleep). Zero still yields once, giving other runnable fibers a
// turn without entering the sleep heap. A negative us is the NO_TIMEOUT
// sentinel: the fiber suspends indefinitely (SUSPENDED) with no deadline,
// and only Interrupt can wake it.
func (s *Scheduler) USleep(us int64) error {
	self := s.current
	if self.flags.has(flagInterrupted) {
		self.flags.clear(flagInterrupted)
		return opError("USleep", ErrInterrupted)
	}
	switch {
	case us == 0:
		self.state = stateRunnable
		s.runQueue.pushBack(&self.schedLink)
		s.yield(self)
		return nil
	case us < 0:
		self.state = stateSuspended
		s.yield(self)
	default:
		s.now()
		self.deadlineUS = s.lastClockUS + us
		self.state = stateSleeping
		s.sleepHeap.insert(self)
		s.yield(self)
	}

	if self.flags.has(flagInterrupted) {
		self.flags.clear(flagInterrupted)
		return opError("USleep", ErrInterrupted)
	}
	return nil
}

// Sleep is USleep expressed as a time.Duration, a convenience
// wrapper over USleep for callers that think in time.Duration.
func (s *Scheduler) Sleep(d time.Duration) error {
	return s.USleep(d.Microseconds())
}

// SetTimeSource overrides the function used for NowUS/checkClock (this module's
// "pluggable time source" allowance), primarily for deterministic tests
// that want to drive the sleep heap without a real wall clock.
func (s *Scheduler) SetTimeSource(f func() time.Time) {
	if f == nil {
		f = time.Now
	}
	s.timeSource = f
}

// SetTimeCache toggles whether NowSeconds reads the coarse,
// checkClock-refreshed cache instead of querying the time source
// directly. It has no effect on NowUS or
// on sleep-heap deadline computation, both of which always read live.
func (s *Scheduler) SetTimeCache(on bool) {
	s.timeCacheOn = on
}

// coarseCacheInterval bounds how often checkClock refreshes the coarse
// seconds cache , independent of how often checkClock itself runs
// (once per idle round, potentially much more often than 1Hz under load).
const coarseCacheInterval = 999 * time.Millisecond

// refreshTimeCache updates the coarse seconds cache from the live clock
// already read by checkClock's caller, but only often enough to matter
// : skipped entirely when the cache is disabled, and rate-limited to
// coarseCacheInterval otherwise.
func (s *Scheduler) refreshTimeCache() {
	if !s.timeCacheOn {
		return
	}
	if !s.cacheAt.IsZero() && time.Duration(s.lastClockUS-s.cacheUS)*time.Microsecond < coarseCacheInterval {
		return
	}
	s.cacheUS = s.lastClockUS
	s.cacheAt = s.timeSource()
}

// NowSeconds returns the current time as fractional seconds since the
// Unix epoch, per this module's now_seconds. When the time cache
// (SetTimeCache) is enabled, this reads the cache refreshed by the most
// recent checkClock pass rather than querying the time source directly;
// callers that need live precision should use NowUS instead.
func (s *Scheduler) NowSeconds() float64 {
	if s.timeCacheOn && !s.cacheAt.IsZero() {
		return float64(s.cacheUS) / 1e6
	}
	return float64(s.NowUS()) / 1e6
}
