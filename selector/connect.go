// File: selector/connect.go
// Author: momentics <momentics@gmail.com>
//
// connectUpdate is the Go port of Jetty ManagedSelector.Connect: it
// registers a pending outbound connection for OpConnect readiness and
// arms a scheduler timeout that races the poller notification. Whichever
// side first flips the shared "resolved" flag delivers the callback; the
// loser's callback becomes a no-op.
package selector

import (
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/reactor"
)

// ConnectFinisher is supplied by the manager/facade layer to complete a
// pending non-blocking connect (e.g. calling getsockopt(SO_ERROR) on fd)
// and report whether it succeeded.
type ConnectFinisher func(fd int) (done bool, err error)

// ConnectCallback receives the outcome of a Connect attempt.
type ConnectCallback func(fd int, err error)

type connectUpdate struct {
	fd       int
	finish   ConnectFinisher
	callback ConnectCallback
	timeout  time.Duration
}

// NewConnectUpdate builds an update that watches fd (already connect()-ed
// in non-blocking mode) for completion, calling callback exactly once,
// either on success/failure detected via finish or on timeout.
func NewConnectUpdate(fd int, timeout time.Duration, finish ConnectFinisher, callback ConnectCallback) SelectorUpdate {
	return &connectUpdate{fd: fd, finish: finish, callback: callback, timeout: timeout}
}

func (u *connectUpdate) Apply(ms *ManagedSelector) error {
	state := &connectState{fd: u.fd, finish: u.finish, callback: u.callback, ms: ms}
	key := newSelectionKey(u.fd, reactor.OpConnect, state)
	state.key = key
	if err := ms.poller.Register(u.fd, reactor.OpConnect); err != nil {
		return err
	}
	ms.putKey(u.fd, key)
	if u.timeout > 0 && ms.manager != nil {
		if sched := ms.manager.Scheduler(); sched != nil {
			task, _ := sched.Schedule(u.timeout.Nanoseconds(), func() {
				state.fail(ErrConnectTimeout)
			})
			state.timeoutTask = task
		}
	}
	return nil
}

// connectState is the Selectable attached to a pending connect's key; it
// implements the compare-and-swap race between the timeout task and the
// poller-observed writability that Jetty's AtomicBoolean failed encodes.
type connectState struct {
	fd          int
	finish      ConnectFinisher
	callback    ConnectCallback
	ms          *ManagedSelector
	key         *SelectionKey
	timeoutTask interface{ Cancel() error }
	failed      int32
	resolved    int32
}

func (c *connectState) UpdateKey() {}

func (c *connectState) OnSelected() (Runnable, error) {
	if atomic.LoadInt32(&c.failed) == 1 {
		return nil, nil
	}
	done, err := c.finish(c.fd)
	if !done {
		return nil, nil
	}
	if c.timeoutTask != nil {
		c.timeoutTask.Cancel()
	}
	c.ms.cancelKey(c.fd, c.key)
	fd, cb := c.fd, c.callback
	return func() {
		if atomic.CompareAndSwapInt32(&c.resolved, 0, 1) {
			cb(fd, err)
		}
	}, nil
}

// fail is invoked from the scheduler goroutine when the connect timeout
// elapses before OnSelected observes completion - off the loop goroutine,
// like the concurrent Register call in acceptUpdate.Apply. That's safe for
// the same reason: cancelKey only touches a key's own mutex, the keys map's
// own RWMutex, and poller.Deregister, all of which reactor.Poller's
// interface doc already promises are safe from any goroutine (epoll_ctl/
// kevent are thread-safe at the OS level, unlike Java NIO's Selector).
func (c *connectState) fail(reason error) {
	if !atomic.CompareAndSwapInt32(&c.failed, 0, 1) {
		return
	}
	if !atomic.CompareAndSwapInt32(&c.resolved, 0, 1) {
		return
	}
	c.ms.cancelKey(c.fd, c.key)
	c.callback(c.fd, reason)
}
