// File: selector/selector.go
// Author: momentics <momentics@gmail.com>
//
// ManagedSelector is the Go port of Jetty's org.eclipse.jetty.io.ManagedSelector:
// one goroutine owns exactly one reactor.Poller and drives an
// eat-what-you-kill ExecutionStrategy over it. Everything that must run on
// that goroutine (registering an fd, changing interest ops, cancelling a
// key) is expressed as a SelectorUpdate and Submit()-ted; every other
// method here is safe to call concurrently.
package selector

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/internal/concurrency"
	"github.com/vireon-io/netselect/reactor"
	"go.uber.org/zap"
)

// DefaultSelectTimeout bounds how long a single poller Wait blocks when no
// events and no updates are pending, so a stopping selector notices within
// one tick even without an explicit wakeup race. A var, not a const, so
// tests can shrink it to keep shutdown races fast.
var DefaultSelectTimeout = 1 * time.Second

// ManagedSelector owns one reactor.Poller and the fd table registered
// against it.
type ManagedSelector struct {
	id       int
	log      *zap.Logger
	manager  Manager
	poller   reactor.Poller
	updates  *concurrency.UpdateQueue[SelectorUpdate]
	strategy *concurrency.ExecutionStrategy

	keysMu sync.RWMutex
	keys   map[int]*SelectionKey

	started      atomic.Bool
	stopping     atomic.Bool
	pendingEvents []reactor.PollEvent
	eventIdx      int
	touchedFds    []int
}

// New constructs a ManagedSelector with id (used for logging/dump only -
// facade.Runtime assigns these when sharding) driving poller under
// manager's policy.
func New(id int, manager Manager, poller reactor.Poller, exec *concurrency.Executor, log *zap.Logger) *ManagedSelector {
	if log == nil {
		log = zap.NewNop()
	}
	ms := &ManagedSelector{
		id:      id,
		log:     log.With(zap.Int("selector_id", id)),
		manager: manager,
		poller:  poller,
		updates: concurrency.NewUpdateQueue[SelectorUpdate](),
		keys:    make(map[int]*SelectionKey),
	}
	ms.strategy = concurrency.NewExecutionStrategy(ms, exec, ms.log)
	return ms
}

// Start marks the selector active and runs an optional startup function on
// the calling goroutine, letting the manager do first-use setup (e.g.
// registering a listener).
func (ms *ManagedSelector) Start(startFn func(ms *ManagedSelector) error) error {
	if !ms.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if startFn != nil {
		if err := startFn(ms); err != nil {
			return err
		}
	}
	return nil
}

// Stop requests shutdown: closes all registered connections, then flags the
// produce loop to exit and wakes the poller so it notices promptly.
func (ms *ManagedSelector) Stop(seen *CloseSet) {
	ms.Submit(NewCloseConnectionsUpdate(seen))
	ms.Submit(NewStopUpdate())
}

// Close releases the underlying poller. Call only after the produce loop
// (driven by Dispatch) has actually exited.
func (ms *ManagedSelector) Close() error {
	return ms.poller.Close()
}

// Submit enqueues update for application on the loop goroutine, waking a
// concurrently blocked Wait if necessary.
func (ms *ManagedSelector) Submit(update SelectorUpdate) {
	if ms.updates.Submit(update) {
		if err := ms.poller.Wakeup(); err != nil {
			ms.log.Warn("selector: wakeup failed", zap.Error(err))
		}
	}
}

// Dispatch drives the ExecutionStrategy, which eats tasks as it produces
// them and keeps producing until Stop has been requested and observed -
// in practice this blocks for the life of the selector. The facade's
// per-shard loop calls this once per shard goroutine; it returns only
// after Stop unwinds the underlying Produce loop.
func (ms *ManagedSelector) Dispatch() {
	ms.strategy.Dispatch()
}

// Stopped reports whether Stop has been requested and observed.
func (ms *ManagedSelector) Stopped() bool {
	return ms.stopping.Load() && len(ms.pendingEvents) == 0
}

// Size returns the number of currently valid registered keys.
func (ms *ManagedSelector) Size() int {
	ms.keysMu.RLock()
	defer ms.keysMu.RUnlock()
	return len(ms.keys)
}

func (ms *ManagedSelector) putKey(fd int, key *SelectionKey) {
	ms.keysMu.Lock()
	ms.keys[fd] = key
	ms.keysMu.Unlock()
}

func (ms *ManagedSelector) dropKey(fd int) {
	ms.keysMu.Lock()
	delete(ms.keys, fd)
	ms.keysMu.Unlock()
}

func (ms *ManagedSelector) lookupKey(fd int) (*SelectionKey, bool) {
	ms.keysMu.RLock()
	defer ms.keysMu.RUnlock()
	k, ok := ms.keys[fd]
	return k, ok
}

func (ms *ManagedSelector) snapshotKeys() []*SelectionKey {
	ms.keysMu.RLock()
	defer ms.keysMu.RUnlock()
	out := make([]*SelectionKey, 0, len(ms.keys))
	for _, k := range ms.keys {
		out = append(out, k)
	}
	return out
}

func (ms *ManagedSelector) snapshotKeysByFd() map[int]*SelectionKey {
	ms.keysMu.RLock()
	defer ms.keysMu.RUnlock()
	out := make(map[int]*SelectionKey, len(ms.keys))
	for fd, k := range ms.keys {
		out[fd] = k
	}
	return out
}

// createEndPoint builds an EndPoint/Connection pair for fd via the manager
// and registers it for ops, mirroring Jetty's createEndPoint/CreateEndPoint
// Runnable.
func (ms *ManagedSelector) createEndPoint(fd int, ops reactor.InterestOps, attachment any) error {
	key := newSelectionKey(fd, ops, nil)
	ep, err := ms.manager.NewEndPoint(fd, ms, key)
	if err != nil {
		ms.manager.ConnectionFailed(fd, err)
		return fmt.Errorf("selector: new endpoint fd=%d: %w", fd, err)
	}
	conn, err := ms.manager.NewConnection(fd, ep, attachment)
	if err != nil {
		ep.Close()
		ms.manager.ConnectionFailed(fd, err)
		return fmt.Errorf("selector: new connection fd=%d: %w", fd, err)
	}
	ep.SetConnection(conn)
	key.Attach(ep)
	if err := ms.poller.Register(fd, ops); err != nil {
		ep.Close()
		return fmt.Errorf("selector: register fd=%d: %w", fd, err)
	}
	ms.putKey(fd, key)
	ep.OnOpen()
	ms.manager.EndPointOpened(ep)
	ms.manager.ConnectionOpened(conn)
	return nil
}
