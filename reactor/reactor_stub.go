//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

// Package reactor
// Author: momentics <momentics@gmail.com>
//
// Build stub for platforms without a native backend wired yet. Windows is
// included here deliberately: IOCP is a completion-based model, not a
// readiness multiplexer, so it doesn't implement the same Poller contract
// as epoll/kqueue without a second, incompatible code path. NewPoller
// always fails so callers get a clear error instead of a silent no-op
// loop.
package reactor

import "errors"

// ErrUnsupportedPlatform is returned by NewPoller where no native backend
// has been wired in.
var ErrUnsupportedPlatform = errors.New("reactor: no poller backend for this platform")

// NewPoller reports ErrUnsupportedPlatform on unsupported build targets.
func NewPoller() (Poller, error) {
	return nil, ErrUnsupportedPlatform
}

// AcceptNonblocking reports ErrUnsupportedPlatform on unsupported build
// targets; no acceptor can run without a Poller to back it.
func AcceptNonblocking(lfd int) (int, error) {
	return -1, ErrUnsupportedPlatform
}

// CloseFd reports ErrUnsupportedPlatform on unsupported build targets.
func CloseFd(fd int) error {
	return ErrUnsupportedPlatform
}
