// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

// listNode is an intrusive circular doubly-linked list node, embedded
// directly on Fiber (once for scheduler-queue membership, once for
// synchronization wait-queue membership) rather than allocated as a
// separate wrapper, per the design note against heap-allocating node
// wrappers when the fiber record already carries its own identity.
//
// A node not currently linked into any list has prev == nil (and next ==
// nil); that is the sole membership test, avoiding any scan.
type listNode struct {
	prev, next *listNode
	owner      *Fiber
}

// linked reports whether the node is currently part of a list.
func (n *listNode) linked() bool { return n.prev != nil }

// fiberList is a sentinel-based circular doubly-linked list of fibers. The
// zero value is not usable; use newFiberList. All operations are O(1)
// except empty-check, which is O(1) too (sentinel self-reference test).
type fiberList struct {
	sentinel listNode
}

func newFiberList() *fiberList {
	l := &fiberList{}
	l.sentinel.prev = &l.sentinel
	l.sentinel.next = &l.sentinel
	return l
}

func (l *fiberList) empty() bool {
	return l.sentinel.next == &l.sentinel
}

// pushBack inserts n immediately before the sentinel (i.e. at the tail).
func (l *fiberList) pushBack(n *listNode) {
	l.insertBefore(n, &l.sentinel)
}

// pushFront inserts n immediately after the sentinel (i.e. at the head).
func (l *fiberList) pushFront(n *listNode) {
	l.insertAfter(n, &l.sentinel)
}

// insertBefore links n directly before at. at must already be linked (or
// be the sentinel).
func (l *fiberList) insertBefore(n, at *listNode) {
	n.prev = at.prev
	n.next = at
	at.prev.next = n
	at.prev = n
}

// insertAfter links n directly after at. at must already be linked (or be
// the sentinel).
func (l *fiberList) insertAfter(n, at *listNode) {
	n.next = at.next
	n.prev = at
	at.next.prev = n
	at.next = n
}

// remove unlinks n from whatever list it is in. It is a no-op if n is not
// linked. O(1), requires no scan.
func (l *fiberList) remove(n *listNode) {
	if n.prev == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

// front returns the fiber at the head of the list, or nil if empty.
func (l *fiberList) front() *Fiber {
	if l.empty() {
		return nil
	}
	return l.sentinel.next.owner
}

// popFront removes and returns the fiber at the head of the list, or nil
// if empty.
func (l *fiberList) popFront(linkOf func(*Fiber) *listNode) *Fiber {
	f := l.front()
	if f == nil {
		return nil
	}
	l.remove(linkOf(f))
	return f
}

// forEach walks the list head-to-tail, calling fn for every member. fn may
// remove the current node from the list (forEach snapshots next before
// calling fn), but must not otherwise mutate the list's linkage.
func (l *fiberList) forEach(fn func(*Fiber)) {
	n := l.sentinel.next
	for n != &l.sentinel {
		next := n.next
		fn(n.owner)
		n = next
	}
}
