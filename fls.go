// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

// KeyCreate allocates a fiber-local storage key, shared process-wide
// across every fiber this Scheduler runs . destructor, if non-nil,
// runs once for each fiber whose slot for this key is non-nil at that
// fiber's exit (this module's key_create contract). The number of live keys is
// bounded by keyLimit; once exhausted, KeyCreate fails ErrNoMemory.
//
// Keys are never individually freed in this runtime (this module notes
// key_delete as optional); the slot simply stops being written to once
// no fiber references it.
func (s *Scheduler) KeyCreate(destructor func(value any)) (int, error) {
	if s.nextKey >= keyLimit {
		return -1, opError("KeyCreate", ErrNoMemory)
	}
	key := s.nextKey
	s.nextKey++
	s.destructors[key] = destructor
	return key, nil
}

// Set stores value in the caller's fiber-local slot for key.
func (f *Fiber) Set(key int, value any) error {
	if key < 0 || key >= keyLimit {
		return opError("Set", ErrInvalidArg)
	}
	f.keys[key] = value
	return nil
}

// Get retrieves the caller's fiber-local slot for key, or nil if never
// set (this module fls_get: "returns nil/None if never set, not an error").
func (f *Fiber) Get(key int) any {
	if key < 0 || key >= keyLimit {
		return nil
	}
	return f.keys[key]
}

// runFLSDestructors invokes every key's destructor against f's non-nil
// slots at fiber exit, per this module. Destructors run in key-creation order,
// on f's own goroutine, before the fiber's stack is released.
func (s *Scheduler) runFLSDestructors(f *Fiber) {
	for key := 0; key < s.nextKey; key++ {
		v := f.keys[key]
		if v == nil {
			continue
		}
		f.keys[key] = nil
		if d := s.destructors[key]; d != nil {
			d(v)
		}
	}
}
