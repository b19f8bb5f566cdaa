package fiberloop

import (
	"errors"
	"fmt"
)

// Sentinel errors covering the condition taxonomy this runtime surfaces.
// Callers should use [errors.Is] rather than comparing values directly,
// since parking primitives wrap these with an operation label.
var (
	// ErrInvalidArg covers programming errors detected at the API
	// boundary: a bad join target, an unknown FLS key, and similar.
	ErrInvalidArg = errors.New("fiberloop: invalid argument")

	// ErrBusy is returned when an operation cannot proceed because a
	// resource is still in use: destroying a condvar with waiters,
	// trylock on a held mutex, closing an fd with outstanding interest.
	ErrBusy = errors.New("fiberloop: resource busy")

	// ErrPerm is returned when the caller lacks the permission required
	// for an operation, such as unlocking a mutex it doesn't own.
	ErrPerm = errors.New("fiberloop: operation not permitted")

	// ErrDeadlock is returned when an operation would deadlock the
	// calling fiber against itself: locking a mutex already held by
	// self, or joining self.
	ErrDeadlock = errors.New("fiberloop: deadlock detected")

	// ErrInterrupted is returned when a parking call is unwound by
	// Interrupt before its normal wake condition was satisfied.
	ErrInterrupted = errors.New("fiberloop: interrupted")

	// ErrTimedOut is returned when a parking call's deadline elapsed
	// before its wake condition was satisfied.
	ErrTimedOut = errors.New("fiberloop: timed out")

	// ErrIOError wraps a failure surfaced by the event-system backend.
	ErrIOError = errors.New("fiberloop: io error")

	// ErrNoMemory is returned when a resource allocation fails: the
	// fiber-local key table is exhausted, or Create cannot acquire a stack.
	ErrNoMemory = errors.New("fiberloop: resource allocation failed")

	// ErrNotRunning names the condition of an operation that requires an
	// active scheduler. No function in this package returns it; calls made
	// before Run or after it has returned are not checked.
	ErrNotRunning = errors.New("fiberloop: runtime is not running")
)

// wrappedError attaches a short operation label to a sentinel error while
// preserving errors.Is/errors.As matching via Unwrap.
type wrappedError struct {
	op  string
	err error
}

func (e *wrappedError) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("fiberloop: %s: %v", e.op, e.err)
}

func (e *wrappedError) Unwrap() error { return e.err }

// opError wraps err with an operation label, returning nil if err is nil.
func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrappedError{op: op, err: err}
}

// ioError wraps a raw backend/syscall failure (epoll_ctl, kevent, and
// similar) so it joins the ErrIOError sentinel taxonomy: errors.Is(err,
// ErrIOError) holds while the original syscall error's text and
// errors.Is/As chain are preserved underneath it.
func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	return opError(op, fmt.Errorf("%w: %v", ErrIOError, err))
}
