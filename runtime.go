// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

// Run drives the scheduler to completion from the calling goroutine,
// which becomes the primordial fiber (this runtime's "thread 0", created
// implicitly by st_init in the original library). It returns once every
// fiber created via Create has exited and been reaped, or is a zombie
// that no one will ever join — matching this runtime's "when active_count
// reaches 0, terminate": a long-lived library returns control to its
// caller here rather than ending the process outright.
//
// Run is re-entrant in the sense that it may be called more than once
// against the same Scheduler (e.g. a caller that creates a fresh batch
// of fibers between calls), but must only ever be called from the
// goroutine that called New, since that goroutine is what Fiber identity
// for the primordial fiber is tied to.
func (s *Scheduler) Run() {
	if s.activeCount == 0 {
		return
	}
	self := s.primordial
	s.primordialParked = self
	s.yield(self)
}

// Close releases the scheduler's event-system backend. It must only be
// called after Run has returned (or will never be called again); fibers
// still parked in Poll at that point would otherwise reference a closed
// descriptor.
func (s *Scheduler) Close() error {
	return opError("Close", s.backend.closeBackend())
}
