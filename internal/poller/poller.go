// Package poller wraps the OS readiness primitive the reactor polls: epoll
// on Linux by default, with an alternate io_uring-backed implementation
// selected at build time for multishot poll support.
package poller

import "errors"

// Interest is a bitmask of the readiness conditions a registration cares
// about.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is a single readiness notification delivered by Wait.
type Event struct {
	Fd       int
	Ready    Interest
	Hangup   bool
	Err      bool
}

// Poller is the minimal surface the reactor needs from a readiness
// multiplexer. Implementations are not safe for concurrent calls to Wait
// from more than one goroutine; Add/Modify/Remove/Wakeup may be called
// concurrently with an in-flight Wait.
type Poller interface {
	// Add registers fd for the given interest set.
	Add(fd int, interest Interest) error

	// Modify changes the interest set for an already-registered fd.
	Modify(fd int, interest Interest) error

	// Remove unregisters fd. It is not an error to remove an fd that was
	// never added.
	Remove(fd int) error

	// Wait blocks until at least one event is ready, timeoutMillis elapses
	// (a negative value waits indefinitely), or Wakeup is called, appending
	// ready events to dst and returning the extended slice.
	Wait(dst []Event, timeoutMillis int) ([]Event, error)

	// Wakeup causes a concurrently blocked Wait to return promptly with no
	// new events, so the reactor loop can re-check its pause flag.
	Wakeup() error

	// Close releases the poller's resources. Not safe to call concurrently
	// with Wait.
	Close() error
}

// ErrUnsupportedPlatform is returned by New when the current GOOS has no
// readiness backend implementation.
var ErrUnsupportedPlatform = errors.New("poller: platform not supported")
