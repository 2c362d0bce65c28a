// File: selector/updates.go
// Author: momentics <momentics@gmail.com>
//
// SelectorUpdate variants, ported from the inner classes of Jetty's
// ManagedSelector: Start, StopSelector, CloseConnections, Acceptor, Accept,
// DumpKeys. Each is applied exactly once, on the loop goroutine, during
// ManagedSelector.processUpdates().
package selector

import (
	"errors"
	"fmt"
	"io"

	"github.com/vireon-io/netselect/reactor"
	"go.uber.org/zap"
)

// SelectorUpdate is queued via ManagedSelector.Submit and applied on the
// loop goroutine.
type SelectorUpdate interface {
	Apply(ms *ManagedSelector) error
}

// startUpdate runs its function once when applied on the loop goroutine,
// letting the manager perform first-use setup against a live poller. It is
// applied only when a caller submits it; Start does not.
type startUpdate struct {
	fn func(ms *ManagedSelector) error
}

// NewStartUpdate wraps fn as a one-shot startup SelectorUpdate.
func NewStartUpdate(fn func(ms *ManagedSelector) error) SelectorUpdate {
	return &startUpdate{fn: fn}
}

func (u *startUpdate) Apply(ms *ManagedSelector) error {
	if u.fn == nil {
		return nil
	}
	return u.fn(ms)
}

// stopUpdate is the Go port of Jetty's StopSelector: after CloseConnections
// has had its turn, this walks every key still in the table - endpoints it
// left registered and any other closeable attachment (e.g. an acceptor's
// listening socket, which CloseConnections' EndPoint type-assertion never
// matches) - closing and cancelling each before the produce loop exits.
type stopUpdate struct{}

// NewStopUpdate builds the update that begins selector shutdown.
func NewStopUpdate() SelectorUpdate { return &stopUpdate{} }

func (u *stopUpdate) Apply(ms *ManagedSelector) error {
	for fd, key := range ms.snapshotKeysByFd() {
		if !key.IsValid() {
			continue
		}
		if closer, ok := key.Attachment().(io.Closer); ok && closer != nil {
			if err := closer.Close(); err != nil {
				ms.log.Warn("selector: stop: attachment close error", zap.Int("fd", fd), zap.Error(err))
			}
		}
		ms.cancelKey(fd, key)
	}
	ms.stopping.Store(true)
	return nil
}

// closeConnectionsUpdate closes every currently registered EndPoint's
// Connection, deduplicated against a shared set so a facade fanning this
// out across shards never double-closes an endpoint it happens to see
// from more than one shard's dump.
type closeConnectionsUpdate struct {
	seen *CloseSet
}

// NewCloseConnectionsUpdate builds an update that closes every connection
// known to this selector. seen may be nil for a single-selector deployment
// (no cross-shard dedup needed); facade.Runtime passes a shared one.
func NewCloseConnectionsUpdate(seen *CloseSet) SelectorUpdate {
	if seen == nil {
		seen = NewCloseSet()
	}
	return &closeConnectionsUpdate{seen: seen}
}

func (u *closeConnectionsUpdate) Apply(ms *ManagedSelector) error {
	for _, key := range ms.snapshotKeys() {
		ep, ok := key.Attachment().(EndPoint)
		if !ok || ep == nil {
			continue
		}
		if conn := ep.Connection(); conn != nil {
			if u.seen.markClosed(conn) {
				err := conn.Close()
				if err != nil {
					ms.log.Warn("selector: connection close error", zap.Error(err))
				}
				ms.manager.ConnectionClosed(conn, err)
			}
		} else if u.seen.markClosed(ep) {
			if err := ep.Close(); err != nil {
				ms.log.Warn("selector: endpoint close error", zap.Error(err))
			}
			ms.manager.EndPointClosed(ep)
		}
	}
	return nil
}

// registerUpdate attaches an arbitrary caller-supplied Selectable to fd,
// the primitive the Acceptor/Accept/Connect updates build on top of.
type registerUpdate struct {
	fd         int
	ops        reactor.InterestOps
	selectable Selectable
}

// NewRegisterUpdate builds an update that registers fd for ops, dispatching
// readiness directly to selectable rather than going through the
// EndPoint/Connection construction path.
func NewRegisterUpdate(fd int, ops reactor.InterestOps, selectable Selectable) SelectorUpdate {
	return &registerUpdate{fd: fd, ops: ops, selectable: selectable}
}

func (u *registerUpdate) Apply(ms *ManagedSelector) error {
	key := newSelectionKey(u.fd, u.ops, u.selectable)
	if err := ms.poller.Register(u.fd, u.ops); err != nil {
		return fmt.Errorf("selector: register fd=%d: %w", u.fd, err)
	}
	ms.putKey(u.fd, key)
	return nil
}

// acceptorUpdate registers a listening fd for OpAccept readiness, attaching
// an acceptSelectable that drains ready connections on each wakeup.
type acceptorUpdate struct {
	listenFd int
}

// NewAcceptorUpdate registers listenFd as an acceptor on the selector it is
// applied to.
func NewAcceptorUpdate(listenFd int) SelectorUpdate {
	return &acceptorUpdate{listenFd: listenFd}
}

func (u *acceptorUpdate) Apply(ms *ManagedSelector) error {
	key := newSelectionKey(u.listenFd, reactor.OpAccept, nil)
	sel := &acceptSelectable{ms: ms, key: key}
	key.Attach(sel)
	if err := ms.poller.Register(u.listenFd, reactor.OpAccept); err != nil {
		return fmt.Errorf("selector: register acceptor fd=%d: %w", u.listenFd, err)
	}
	ms.putKey(u.listenFd, key)
	return nil
}

// acceptSelectable is the Selectable attached to a listening fd's key.
type acceptSelectable struct {
	ms  *ManagedSelector
	key *SelectionKey
}

func (a *acceptSelectable) UpdateKey() {}

// Close closes the listening fd itself, invoked by StopSelector's generic
// attachment sweep since an acceptor is a Closeable, not an EndPoint.
func (a *acceptSelectable) Close() error {
	return reactor.CloseFd(a.key.Fd())
}

// OnSelected drains accept() in a tight inner loop until the OS backlog is
// empty, handing each accepted fd to manager.Accepted before any EndPoint
// exists for it - the manager may reject it outright by returning an error,
// in which case the fd is closed here rather than leaked.
func (a *acceptSelectable) OnSelected() (Runnable, error) {
	lfd := a.key.Fd()
	for {
		fd, err := reactor.AcceptNonblocking(lfd)
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) {
				return nil, nil
			}
			a.ms.manager.OnAcceptFailed(err)
			return nil, nil
		}
		if err := a.ms.manager.Accepted(fd); err != nil {
			a.ms.manager.OnAcceptFailed(err)
			reactor.CloseFd(fd)
		}
	}
}

// acceptUpdate attaches a single already-accepted fd to the selector,
// constructing its EndPoint/Connection via the manager, mirroring Jetty's
// Accept inner class.
type acceptUpdate struct {
	fd         int
	attachment any
}

// NewAcceptUpdate builds an update that finishes onboarding fd (already
// accept()-ed, non-blocking) onto the selector.
func NewAcceptUpdate(fd int, attachment any) SelectorUpdate {
	return &acceptUpdate{fd: fd, attachment: attachment}
}

// Apply dispatches endpoint/connection construction through the manager's
// executor rather than building it inline: manager.NewEndPoint/NewConnection
// are application code and may allocate or block, which must not happen on
// the loop goroutine. If the executor rejects the task outright (saturated),
// the raw fd is closed here since no EndPoint yet owns it to do so.
func (u *acceptUpdate) Apply(ms *ManagedSelector) error {
	fd, attachment := u.fd, u.attachment
	ms.manager.OnAccepting(fd)
	err := ms.manager.Execute(func() {
		if err := ms.createEndPoint(fd, reactor.OpRead, attachment); err != nil {
			ms.log.Warn("selector: accept endpoint creation failed", zap.Int("fd", fd), zap.Error(err))
			return
		}
		ms.manager.OnAccepted(fd)
	})
	if err != nil {
		reactor.CloseFd(fd)
		ms.manager.ConnectionFailed(fd, err)
	}
	return nil
}

// destroyEndPointUpdate closes and deregisters a single endpoint's key,
// for a collaborator that wants to tear down one connection without
// waiting for a full Stop.
type destroyEndPointUpdate struct {
	ep EndPoint
}

// NewDestroyEndPointUpdate builds an update that closes ep's connection
// (if any) and cancels its key, deregistering it from the poller.
func NewDestroyEndPointUpdate(ep EndPoint) SelectorUpdate {
	return &destroyEndPointUpdate{ep: ep}
}

func (u *destroyEndPointUpdate) Apply(ms *ManagedSelector) error {
	for fd, key := range ms.snapshotKeysByFd() {
		if attached, ok := key.Attachment().(EndPoint); ok && attached == u.ep {
			ms.cancelKey(fd, key)
			if conn := u.ep.Connection(); conn != nil {
				err := conn.Close()
				if err != nil {
					ms.log.Warn("selector: destroy endpoint connection close error", zap.Error(err))
				}
				ms.manager.ConnectionClosed(conn, err)
			}
			err := u.ep.Close()
			ms.manager.EndPointClosed(u.ep)
			return err
		}
	}
	return nil
}

// dumpKeysUpdate snapshots the selector's key table into a sink, used by
// facade.Runtime.Dump and diagnostics endpoints.
type dumpKeysUpdate struct {
	w    io.Writer
	done chan struct{}
}

// NewDumpKeysUpdate builds an update that writes a human-readable key
// table snapshot to w.
func NewDumpKeysUpdate(w io.Writer) SelectorUpdate {
	return &dumpKeysUpdate{w: w}
}

func (u *dumpKeysUpdate) Apply(ms *ManagedSelector) error {
	for _, key := range ms.snapshotKeys() {
		fmt.Fprintf(u.w, "fd=%d interest=%v valid=%v attachment=%T\n",
			key.Fd(), key.InterestOps(), key.IsValid(), key.Attachment())
	}
	if u.done != nil {
		close(u.done)
	}
	return nil
}

// NewSyncDumpKeysUpdate is NewDumpKeysUpdate plus a channel closed once the
// dump has actually run on the loop goroutine, letting a caller block for a
// real point-in-time snapshot instead of racing the shard loop.
func NewSyncDumpKeysUpdate(w io.Writer, done chan struct{}) SelectorUpdate {
	return &dumpKeysUpdate{w: w, done: done}
}
