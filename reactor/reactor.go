// Package reactor
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness-multiplexer contract. A Poller wraps a single
// OS-level demultiplexing mechanism (epoll, kqueue, IOCP) behind one
// interface so that selector.ManagedSelector never needs a build tag of its
// own.
package reactor

import "time"

// InterestOps is a bitmask of the readiness conditions a registered fd is
// watched for.
type InterestOps uint8

const (
	// OpRead indicates interest in read/accept readiness.
	OpRead InterestOps = 1 << iota
	// OpWrite indicates interest in write/connect-complete readiness.
	OpWrite
)

// OpAccept and OpConnect are aliases kept for readability at call sites:
// an acceptor waits on OpRead (incoming connections), a pending outbound
// connect waits on OpWrite (socket becomes writable on completion).
const (
	OpAccept  = OpRead
	OpConnect = OpWrite
)

// PollEvent reports one fd's readiness state after a Wait call returns.
type PollEvent struct {
	Fd       int
	Readable bool
	Writable bool
	// Error is set when the fd hit EPOLLERR/EPOLLHUP, EV_EOF, or
	// equivalent - the caller should treat the connection as dead
	// regardless of Readable/Writable.
	Error bool
}

// Poller is the per-shard readiness multiplexer. Implementations are not
// expected to be safe for concurrent Wait calls, but Register/Modify/
// Deregister/Wakeup/Close must be safe to call from any goroutine while
// another is blocked in Wait - that is exactly how ManagedSelector uses it:
// the producer goroutine blocks in Wait while submit() calls Wakeup from
// elsewhere.
type Poller interface {
	// Register begins watching fd for the given interest set.
	Register(fd int, ops InterestOps) error

	// Modify changes the interest set for an already-registered fd.
	Modify(fd int, ops InterestOps) error

	// Deregister stops watching fd. It does not close fd.
	Deregister(fd int) error

	// Wait blocks until at least one registered fd is ready, the poller
	// is woken via Wakeup, or timeout elapses (a zero-or-negative timeout
	// means block indefinitely). Returns the number of entries written
	// into events.
	Wait(events []PollEvent, timeout time.Duration) (int, error)

	// Wakeup causes a concurrently blocked Wait to return promptly with
	// n == 0. Safe to call from any goroutine, including when no Wait is
	// currently blocked (the wakeup is latched, not lost).
	Wakeup() error

	// Close releases the poller's OS resources. Not safe to call
	// concurrently with Wait.
	Close() error
}
