package selector_test

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vireon-io/netselect/reactor"
	sel "github.com/vireon-io/netselect/selector"
)

func init() {
	// Produce blocks in the poller for up to DefaultSelectTimeout whenever
	// no task is ready and no stop has been requested; shrink it so tests
	// that wait on Stop actually taking effect don't wait on the real 1s
	// default.
	sel.DefaultSelectTimeout = 20 * time.Millisecond
}

type recordingSelectable struct {
	fd      int
	onSel   func() (sel.Runnable, error)
	updated atomic.Int32
}

func (r *recordingSelectable) OnSelected() (sel.Runnable, error) { return r.onSel() }
func (r *recordingSelectable) UpdateKey()                        { r.updated.Add(1) }

func TestManagedSelectorDispatchesRegisteredSelectable(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	ms := sel.New(0, manager, poller, nil, nil)

	var ran atomic.Bool
	rs := &recordingSelectable{fd: 7}
	rs.onSel = func() (sel.Runnable, error) {
		return func() { ran.Store(true) }, nil
	}
	idle := &recordingSelectable{fd: 8}
	idle.onSel = func() (sel.Runnable, error) { return nil, nil }
	ms.Submit(sel.NewRegisterUpdate(7, reactor.OpRead, rs))
	ms.Submit(sel.NewRegisterUpdate(8, reactor.OpRead, idle))
	poller.push(reactor.PollEvent{Fd: 7, Readable: true})

	go ms.Dispatch()
	defer ms.Stop(nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !ran.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	if !ran.Load() {
		t.Fatal("expected registered selectable's runnable to have executed")
	}
	if !poller.isRegistered(7) {
		t.Fatal("expected fd 7 to be registered with the poller")
	}
	// Give updateKeys a moment to run for the cycle that processed fd 7.
	time.Sleep(50 * time.Millisecond)
	if got := rs.updated.Load(); got != 1 {
		t.Fatalf("expected UpdateKey to run exactly once for the selected key, ran %d times", got)
	}
	if got := idle.updated.Load(); got != 0 {
		t.Fatalf("expected UpdateKey to never run for a key with no ready event this cycle, ran %d times", got)
	}
}

func TestManagedSelectorErrorEventCancelsKey(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	ms := sel.New(0, manager, poller, nil, nil)

	rs := &recordingSelectable{fd: 9}
	rs.onSel = func() (sel.Runnable, error) { return nil, nil }
	ms.Submit(sel.NewRegisterUpdate(9, reactor.OpRead, rs))
	poller.push(reactor.PollEvent{Fd: 9, Error: true})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3 && ms.Size() == 0; i++ {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()

	go ms.Dispatch()
	<-done

	defer ms.Stop(nil)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !poller.isRegistered(9) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected key for fd 9 to be deregistered after an error event")
}

func TestManagedSelectorAcceptOpensConnectionAndStopClosesIt(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	var epPtr atomic.Pointer[fakeEndPoint]
	manager.newEndPointFn = func(fd int, ms *sel.ManagedSelector, key *sel.SelectionKey) (sel.EndPoint, error) {
		ep := &fakeEndPoint{fd: fd}
		epPtr.Store(ep)
		return ep, nil
	}
	ms := sel.New(0, manager, poller, nil, nil)

	ms.Submit(sel.NewAcceptUpdate(11, nil))
	go ms.Dispatch()

	deadline := time.Now().Add(time.Second)
	var ep *fakeEndPoint
	for time.Now().Before(deadline) {
		if ep = epPtr.Load(); ep != nil && ep.opened.Load() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ep == nil || !ep.opened.Load() {
		t.Fatal("expected endpoint to be constructed and opened")
	}
	conn, _ := ep.Connection().(*fakeConnection)
	if conn == nil {
		t.Fatal("expected a connection to be attached to the endpoint")
	}
	if got := manager.AcceptingCalls(); len(got) != 1 || got[0] != 11 {
		t.Fatalf("expected exactly one OnAccepting(11) call, got %v", got)
	}
	if got := manager.AcceptedCalls(); len(got) != 1 || got[0] != 11 {
		t.Fatalf("expected exactly one OnAccepted(11) call, got %v", got)
	}

	ms.Stop(nil)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.closed.Load() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !conn.closed.Load() {
		t.Fatal("expected Stop to close the endpoint's connection")
	}
	if got := manager.ConnectionClosedCount(); got != 1 {
		t.Fatalf("expected ConnectionClosed to be called exactly once, got %d", got)
	}
}

func TestManagedSelectorAcceptorDrainsPendingConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	raw, err := ln.(*net.TCPListener).SyscallConn()
	if err != nil {
		t.Fatalf("syscallconn: %v", err)
	}
	var lfd int
	raw.Control(func(fd uintptr) { lfd = int(fd) })

	poller := newFakePoller()
	manager := newFakeManager()
	var mu sync.Mutex
	var accepted []int
	manager.acceptedFn = func(fd int) error {
		mu.Lock()
		accepted = append(accepted, fd)
		mu.Unlock()
		reactor.CloseFd(fd)
		return nil
	}
	ms := sel.New(0, manager, poller, nil, nil)
	ms.Submit(sel.NewAcceptorUpdate(lfd))

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)
	poller.push(reactor.PollEvent{Fd: lfd, Readable: true})

	go ms.Dispatch()
	defer ms.Stop(nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(accepted)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected acceptor to drain at least one pending connection")
}

func TestManagedSelectorStopClosesAcceptorListeningFd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	raw, err := ln.(*net.TCPListener).SyscallConn()
	if err != nil {
		t.Fatalf("syscallconn: %v", err)
	}
	var lfd int
	raw.Control(func(fd uintptr) { lfd = int(fd) })

	// Register a dup of the listener's fd rather than lfd itself, so
	// closing it here can never race the fd number being reused by
	// ln.Close() or anything else in the process.
	dupFd, err := unix.Dup(lfd)
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	poller := newFakePoller()
	manager := newFakeManager()
	ms := sel.New(0, manager, poller, nil, nil)
	ms.Submit(sel.NewAcceptorUpdate(dupFd))

	go ms.Dispatch()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !poller.isRegistered(dupFd) {
		time.Sleep(5 * time.Millisecond)
	}
	if !poller.isRegistered(dupFd) {
		t.Fatal("expected the acceptor's listening fd to be registered before stop")
	}

	ms.Stop(nil)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := unix.FcntlInt(uintptr(dupFd), unix.F_GETFD, 0); err != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	unix.Close(dupFd)
	t.Fatal("expected Stop to close the acceptor's listening fd rather than leak it")
}

// faultyUpdate always fails Apply; the loop must log and continue rather
// than stopping on it.
type faultyUpdate struct{}

func (faultyUpdate) Apply(ms *sel.ManagedSelector) error { return errFaultyUpdate }

var errFaultyUpdate = &faultyUpdateError{}

type faultyUpdateError struct{}

func (*faultyUpdateError) Error() string { return "selector_test: faulty update" }

func TestManagedSelectorSurvivesFaultyUpdate(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	ms := sel.New(0, manager, poller, nil, nil)

	var ran atomic.Bool
	rs := &recordingSelectable{fd: 31}
	rs.onSel = func() (sel.Runnable, error) {
		return func() { ran.Store(true) }, nil
	}

	ms.Submit(faultyUpdate{})
	ms.Submit(sel.NewRegisterUpdate(31, reactor.OpRead, rs))
	poller.push(reactor.PollEvent{Fd: 31, Readable: true})

	go ms.Dispatch()
	defer ms.Stop(nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !ran.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	if !ran.Load() {
		t.Fatal("expected the loop to keep applying updates after a faulty one")
	}
}

func TestManagedSelectorAcceptClosesFdWhenExecutorRejects(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	rejectErr := errFaultyUpdate
	manager.executeFn = func(task func()) error { return rejectErr }
	ms := sel.New(0, manager, poller, nil, nil)

	ms.Submit(sel.NewAcceptUpdate(12, nil))
	go ms.Dispatch()
	defer ms.Stop(nil)

	deadline := time.Now().Add(time.Second)
	var calls []error
	for time.Now().Before(deadline) {
		calls = manager.ConnFailedCalls()
		if len(calls) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly one ConnectionFailed call for the rejected accept, got %d", len(calls))
	}
	if calls[0] != rejectErr {
		t.Fatalf("expected ConnectionFailed to carry the executor's rejection error, got %v", calls[0])
	}
}

func TestManagedSelectorStopIsIdempotentAndNonBlocking(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	ms := sel.New(0, manager, poller, nil, nil)

	go ms.Dispatch()

	done := make(chan struct{})
	go func() {
		ms.Stop(nil)
		ms.Stop(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a second Stop call to return promptly rather than block")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !ms.Stopped() {
		time.Sleep(5 * time.Millisecond)
	}
	if !ms.Stopped() {
		t.Fatal("expected the selector to report stopped after Stop")
	}
}

func TestManagedSelectorCoalescesWakeupsUnderConcurrentSubmit(t *testing.T) {
	poller := newFakePoller()
	manager := newFakeManager()
	ms := sel.New(0, manager, poller, nil, nil)

	go ms.Dispatch()
	defer ms.Stop(nil)

	// Give the loop a chance to reach its blocking Wait before the burst.
	time.Sleep(30 * time.Millisecond)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				fd := base*10 + i
				rs := &recordingSelectable{fd: fd}
				rs.onSel = func() (sel.Runnable, error) { return nil, nil }
				ms.Submit(sel.NewRegisterUpdate(fd, reactor.OpRead, rs))
			}
		}(g)
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ms.Size() < 100 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := ms.Size(); got != 100 {
		t.Fatalf("expected all 100 concurrently submitted updates to be applied, got %d", got)
	}
	// Coalescing isn't a hard upper bound of exactly one wakeup (a submit
	// racing the loop's own wake-and-clear can still issue its own), but it
	// must be far below one-per-submit for 100 concurrent submits.
	if calls := poller.wakeupCalls.Load(); calls >= 100 {
		t.Fatalf("expected wakeups to coalesce well below one per submit, got %d for 100 submits", calls)
	}
}
