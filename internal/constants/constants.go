package constants

import "time"

// Default configuration constants.
const (
	// DefaultReadBufferSize is the default size hint for a connection's read
	// side when a caller does not provide one (bulk_read staging buffer).
	DefaultReadBufferSize = 64 * 1024

	// DefaultSendBufferSize is the assumed SO_SNDBUF when the platform
	// getsockopt call is unavailable or fails. write() picks between the
	// large-buffer (select_always) and small-buffer (select_once loop)
	// strategies by comparing against the measured SO_SNDBUF, so this value
	// is the threshold only when that measurement failed.
	DefaultSendBufferSize = 212992

	// DefaultReceiveBufferSize mirrors DefaultSendBufferSize for SO_RCVBUF.
	DefaultReceiveBufferSize = 212992

	// DefaultReactorPoolSize is the number of reactors in the default pool
	// when none is configured explicitly.
	DefaultReactorPoolSize = 1

	// AcceptBacklog is the backlog passed to listen(2) when the caller does
	// not specify one.
	AcceptBacklog = 128
)

// Timing constants for reactor scheduling and connection lifecycle.
//
// The reactor's two-phase pause protocol (see internal/reactor) needs the
// loop to notice a pending registration promptly without busy-spinning when
// idle; these constants bound how long the loop is willing to wait and how
// eagerly force_close gives up on a graceful drain.
const (
	// ReactorPollTimeout bounds a single wait_now call when the reactor is
	// not paused and has no fired events, so the loop can periodically
	// recheck should_pause even if the readiness primitive's wakeup eventfd
	// write is ever missed.
	ReactorPollTimeout = 1 * time.Second

	// CloseYieldBudget is the number of scheduling points close() yields to
	// the Go scheduler before enqueueing its CloseRequest sentinel, giving
	// already-issued fire-and-forget writes a chance to reach the queue
	// (spec.md's "close waits for queue drain" ordering guarantee).
	CloseYieldBudget = 1
)
