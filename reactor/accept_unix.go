//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/accept_unix.go
// Author: momentics <momentics@gmail.com>
//
// AcceptNonblocking wraps the platform accept(2) in a form every unix Poller
// backend can share: a non-blocking, close-on-exec child fd, or
// ErrWouldBlock once the listen backlog is drained. Grounded on
// LeGamerDc-gio/server/accept_linux.go's accept4(SOCK_NONBLOCK|SOCK_CLOEXEC)
// loop; unix.Accept4 itself is Linux/FreeBSD/DragonFly/illumos-only, so this
// falls back to accept+SetNonblock+CloseOnExec for the remaining kqueue
// platforms (Darwin, NetBSD, OpenBSD) rather than forking the call per OS.
package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that a listening fd's backlog is currently empty -
// the signal to stop an Acceptor's accept loop for this readiness event.
var ErrWouldBlock = errors.New("reactor: accept would block")

// AcceptNonblocking accepts one pending connection from lfd (already
// registered for read/accept readiness), returning ErrWouldBlock once the
// backlog is drained.
func AcceptNonblocking(lfd int) (int, error) {
	fd, _, err := unix.Accept(lfd)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return -1, ErrWouldBlock
		}
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// CloseFd closes a raw fd, used by a caller that rejected an accepted fd
// before any EndPoint (and its io.Closer contract) existed for it.
func CloseFd(fd int) error {
	return unix.Close(fd)
}
