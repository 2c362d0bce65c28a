package selector_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/reactor"
)

// fakePoller is an in-memory stand-in for a reactor.Poller, letting tests
// drive ManagedSelector.Produce deterministically without real fds.
type fakePoller struct {
	mu          sync.Mutex
	registered  map[int]reactor.InterestOps
	events      chan []reactor.PollEvent
	wake        chan struct{}
	closed      bool
	wakeupCalls atomic.Int64
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		registered: make(map[int]reactor.InterestOps),
		events:     make(chan []reactor.PollEvent, 8),
		wake:       make(chan struct{}, 1),
	}
}

func (p *fakePoller) Register(fd int, ops reactor.InterestOps) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered[fd] = ops
	return nil
}

func (p *fakePoller) Modify(fd int, ops reactor.InterestOps) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered[fd] = ops
	return nil
}

func (p *fakePoller) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.registered, fd)
	return nil
}

func (p *fakePoller) Wait(events []reactor.PollEvent, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	select {
	case batch := <-p.events:
		return copy(events, batch), nil
	case <-p.wake:
		return 0, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePoller) Wakeup() error {
	p.wakeupCalls.Add(1)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePoller) push(events ...reactor.PollEvent) {
	p.events <- events
}

func (p *fakePoller) isRegistered(fd int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.registered[fd]
	return ok
}
