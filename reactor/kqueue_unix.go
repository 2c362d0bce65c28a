//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package reactor
// Author: momentics <momentics@gmail.com>
//
// BSD/Darwin backend built on kqueue(2), grounded on LeGamerDc-gio's
// poller/kqueue_darwin.go: a non-blocking pipe stands in for an eventfd,
// registered once with EV_CLEAR so repeated wakeups while a Wait is
// already running don't pile up spurious readiness.
package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq        int
	wakeRead  int
	wakeWrite int
}

// NewPoller constructs the kqueue-backed Poller.
func NewPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("reactor: kqueue: %w", err)
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("reactor: pipe: %w", err)
	}
	rfd, wfd := fds[0], fds[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	kev := unix.Kevent_t{Ident: uint64(rfd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, fmt.Errorf("reactor: kevent(wake): %w", err)
	}
	return &kqueuePoller{kq: kq, wakeRead: rfd, wakeWrite: wfd}, nil
}

func (p *kqueuePoller) Register(fd int, ops InterestOps) error {
	return p.apply(fd, ops, unix.EV_ADD|unix.EV_CLEAR)
}

func (p *kqueuePoller) Modify(fd int, ops InterestOps) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(p.kq, changes, nil, nil)
	return p.apply(fd, ops, unix.EV_ADD|unix.EV_CLEAR)
}

func (p *kqueuePoller) apply(fd int, ops InterestOps, flags uint16) error {
	var changes []unix.Kevent_t
	if ops&OpRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if ops&OpWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Deregister(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) Wait(events []PollEvent, timeout time.Duration) (int, error) {
	raw := make([]unix.Kevent_t, len(events))
	var tsp *unix.Timespec
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = &ts
	}
	n, err := unix.Kevent(p.kq, nil, raw, tsp)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: kevent wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		if fd == p.wakeRead {
			p.drainWake()
			continue
		}
		ev := PollEvent{Fd: fd, Error: raw[i].Flags&unix.EV_EOF != 0}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		events[out] = ev
		out++
	}
	return out, nil
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeRead, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *kqueuePoller) Wakeup() error {
	_, err := unix.Write(p.wakeWrite, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.wakeRead)
	unix.Close(p.wakeWrite)
	return unix.Close(p.kq)
}
