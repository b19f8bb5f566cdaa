// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import "time"

// runtimeOptions holds configuration resolved from a caller's Option
// list before a Scheduler is constructed.
type runtimeOptions struct {
	randomizeStacks  bool
	timeSource       func() time.Time
	timeCacheOn      bool
	fdLimit          int
	logger           Logger
	defaultStackSize int
}

func defaultRuntimeOptions() runtimeOptions {
	return runtimeOptions{
		randomizeStacks:  false,
		timeSource:       time.Now,
		timeCacheOn:      false,
		fdLimit:          0,
		logger:           nil,
		defaultStackSize: 8192,
	}
}

// Option configures a Scheduler at construction time (New): a closure
// wrapped behind an unexported implementation so new fields can be added
// to runtimeOptions without breaking callers.
type Option interface {
	apply(*runtimeOptions)
}

type optionFunc func(*runtimeOptions)

func (f optionFunc) apply(o *runtimeOptions) { f(o) }

// WithRandomizedStacks enables randomized first-fit selection among
// equally-eligible free stack slots (this module's randomized guard-offset
// analogue; see stack.go).
func WithRandomizedStacks(enabled bool) Option {
	return optionFunc(func(o *runtimeOptions) { o.randomizeStacks = enabled })
}

// WithTimeSource overrides the function used to read "now" (this module's
// pluggable time source), primarily for deterministic tests driving the
// sleep heap without a real wall clock.
func WithTimeSource(f func() time.Time) Option {
	return optionFunc(func(o *runtimeOptions) {
		if f != nil {
			o.timeSource = f
		}
	})
}

// WithTimeCache enables the coarse-seconds cache described in this module,
// refreshed only on check_clock passes rather than on every call.
func WithTimeCache(enabled bool) Option {
	return optionFunc(func(o *runtimeOptions) { o.timeCacheOn = enabled })
}

// WithFDLimit overrides the value FDLimit reports, per this module's
// fd_getlimit contract (a pure query, not an enforced cap: nothing in
// fd_new/pollsetAdd compares the live fd count against it). Zero (the
// default) defers entirely to the OS-reported soft limit.
func WithFDLimit(n int) Option {
	return optionFunc(func(o *runtimeOptions) { o.fdLimit = n })
}

// WithLogger installs a structured Logger; the default is a no-op
// logger, so logging stays opt-in.
func WithLogger(l Logger) Option {
	return optionFunc(func(o *runtimeOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithDefaultStackSize sets the stack size used by Create when callers
// pass a non-positive stackSize.
func WithDefaultStackSize(n int) Option {
	return optionFunc(func(o *runtimeOptions) {
		if n > 0 {
			o.defaultStackSize = n
		}
	})
}
