package selector_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/api"
	"github.com/vireon-io/netselect/internal/concurrency"
	sel "github.com/vireon-io/netselect/selector"
)

// fakeEndPoint is a minimal EndPoint/Connection/Selectable all in one,
// recording lifecycle calls for assertions. Fields a test may poll from a
// goroutine other than the one driving Dispatch are atomic.
type fakeEndPoint struct {
	fd     int
	connMu atomic.Pointer[sel.Connection]
	opened atomic.Bool
	closed atomic.Bool
	onSel  func() (sel.Runnable, error)
}

func (e *fakeEndPoint) OnSelected() (sel.Runnable, error) {
	if e.onSel != nil {
		return e.onSel()
	}
	return nil, nil
}
func (e *fakeEndPoint) UpdateKey()   {}
func (e *fakeEndPoint) Close() error { e.closed.Store(true); return nil }
func (e *fakeEndPoint) SetConnection(c sel.Connection) { e.connMu.Store(&c) }
func (e *fakeEndPoint) Connection() sel.Connection {
	if p := e.connMu.Load(); p != nil {
		return *p
	}
	return nil
}
func (e *fakeEndPoint) OnOpen() { e.opened.Store(true) }

type fakeConnection struct {
	closed atomic.Bool
}

func (c *fakeConnection) Close() error { c.closed.Store(true); return nil }

// fakeManager implements selector.Manager with recording hooks; each field
// defaults to a harmless no-op so tests only set what they need.
type fakeManager struct {
	scheduler       api.Scheduler
	newEndPointFn   func(fd int, ms *sel.ManagedSelector, key *sel.SelectionKey) (sel.EndPoint, error)
	acceptedFn      func(fd int) error
	executeFn       func(task func()) error

	mu                  sync.Mutex
	connFailedCalls     []error
	acceptingCalls      []int
	acceptedCalls       []int
	connectionClosedN   int
	endPointClosedN     int
}

// ConnFailedCalls returns a snapshot of recorded ConnectionFailed errors,
// safe to call from a goroutine other than the one driving Dispatch.
func (m *fakeManager) ConnFailedCalls() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]error, len(m.connFailedCalls))
	copy(out, m.connFailedCalls)
	return out
}

func newFakeManager() *fakeManager {
	return &fakeManager{scheduler: concurrency.NewScheduler(nil)}
}

func (m *fakeManager) Execute(task func()) error {
	if m.executeFn != nil {
		return m.executeFn(task)
	}
	task()
	return nil
}
func (m *fakeManager) Scheduler() api.Scheduler  { return m.scheduler }
func (m *fakeManager) ConnectTimeout() time.Duration { return time.Second }
func (m *fakeManager) ForceSelectNow() bool          { return false }

func (m *fakeManager) NewEndPoint(fd int, ms *sel.ManagedSelector, key *sel.SelectionKey) (sel.EndPoint, error) {
	if m.newEndPointFn != nil {
		return m.newEndPointFn(fd, ms, key)
	}
	return &fakeEndPoint{fd: fd}, nil
}

func (m *fakeManager) NewConnection(fd int, endpoint sel.EndPoint, attachment any) (sel.Connection, error) {
	return &fakeConnection{}, nil
}

func (m *fakeManager) Accepted(fd int) error {
	if m.acceptedFn != nil {
		return m.acceptedFn(fd)
	}
	return nil
}

func (m *fakeManager) OnAccepting(fd int) {
	m.mu.Lock()
	m.acceptingCalls = append(m.acceptingCalls, fd)
	m.mu.Unlock()
}
func (m *fakeManager) OnAccepted(fd int) {
	m.mu.Lock()
	m.acceptedCalls = append(m.acceptedCalls, fd)
	m.mu.Unlock()
}
func (m *fakeManager) OnAcceptFailed(err error) {}
func (m *fakeManager) ConnectionFailed(fd int, err error) {
	m.mu.Lock()
	m.connFailedCalls = append(m.connFailedCalls, err)
	m.mu.Unlock()
}
func (m *fakeManager) ConnectionOpened(conn sel.Connection) {}
func (m *fakeManager) ConnectionClosed(conn sel.Connection, err error) {
	m.mu.Lock()
	m.connectionClosedN++
	m.mu.Unlock()
}
func (m *fakeManager) EndPointOpened(ep sel.EndPoint) {}
func (m *fakeManager) EndPointClosed(ep sel.EndPoint) {
	m.mu.Lock()
	m.endPointClosedN++
	m.mu.Unlock()
}

// AcceptingCalls, AcceptedCalls, ConnectionClosedCount, and
// EndPointClosedCount snapshot their respective recorded calls, safe to
// call from a goroutine other than the one driving Dispatch.
func (m *fakeManager) AcceptingCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.acceptingCalls))
	copy(out, m.acceptingCalls)
	return out
}

func (m *fakeManager) AcceptedCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.acceptedCalls))
	copy(out, m.acceptedCalls)
	return out
}

func (m *fakeManager) ConnectionClosedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionClosedN
}

func (m *fakeManager) EndPointClosedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endPointClosedN
}
