// File: selector/producer.go
// Author: momentics <momentics@gmail.com>
//
// Produce implements concurrency.Producer, giving the ExecutionStrategy a
// single entry point that mirrors Jetty's SelectorProducer.produce():
// drain already-selected keys first, and only fall back to
// processUpdates -> updateKeys -> select once that supply is exhausted.
package selector

import (
	"io"

	"github.com/vireon-io/netselect/reactor"
	"go.uber.org/zap"
)

// Produce returns the next runnable unit of work, or (nil, false) once the
// selector has fully drained its pending work and observed a stop request.
func (ms *ManagedSelector) Produce() (func(), bool) {
	for {
		if task := ms.processSelected(); task != nil {
			return task, true
		}
		if ms.stopping.Load() {
			return nil, false
		}
		ms.processUpdates()
		ms.updateKeys()
		n, err := ms.doSelect()
		if err != nil {
			ms.log.Error("selector: poller wait failed", zap.Error(err))
			ms.stopping.Store(true)
			return nil, false
		}
		if n == 0 && ms.stopping.Load() {
			return nil, false
		}
	}
}

// processSelected pops the next queued PollEvent (from the last doSelect)
// and dispatches it to its key's Selectable, returning the resulting
// Runnable. Returns nil when the queue is empty.
func (ms *ManagedSelector) processSelected() func() {
	for ms.eventIdx < len(ms.pendingEvents) {
		ev := ms.pendingEvents[ms.eventIdx]
		ms.eventIdx++
		key, ok := ms.lookupKey(ev.Fd)
		if !ok || !key.IsValid() {
			continue
		}
		selectable, ok := key.Attachment().(Selectable)
		if !ok || selectable == nil {
			continue
		}
		if ev.Error {
			ms.cancelKey(ev.Fd, key)
			if closer, ok := selectable.(io.Closer); ok {
				closer.Close()
			}
			continue
		}
		ms.touchedFds = append(ms.touchedFds, ev.Fd)
		runnable, err := selectable.OnSelected()
		if err != nil {
			ms.log.Warn("selector: OnSelected error", zap.Int("fd", ev.Fd), zap.Error(err))
			ms.cancelKey(ev.Fd, key)
			if closer, ok := selectable.(io.Closer); ok {
				closer.Close()
			}
			continue
		}
		if runnable != nil {
			return func() { runnable() }
		}
	}
	ms.pendingEvents = nil
	ms.eventIdx = 0
	return nil
}

func (ms *ManagedSelector) cancelKey(fd int, key *SelectionKey) {
	key.cancel()
	ms.dropKey(fd)
	if err := ms.poller.Deregister(fd); err != nil {
		ms.log.Debug("selector: deregister on cancel failed", zap.Int("fd", fd), zap.Error(err))
	}
}

// processUpdates applies every SelectorUpdate submitted since the last
// call, marking the queue as "selecting" as it does so - the first Submit
// that races past this point sees needsWakeup == true and wakes the poller,
// interrupting the subsequent doSelect.
func (ms *ManagedSelector) processUpdates() {
	pending := ms.updates.BeginSelect()
	for _, u := range pending {
		if err := u.Apply(ms); err != nil {
			ms.log.Warn("selector: update apply failed", zap.Error(err))
		}
	}
}

// updateKeys lets exactly the Selectables whose OnSelected ran this select
// cycle recompute their interest ops, once each, before the next blocking
// Wait - not the full key table, which would call UpdateKey on endpoints
// that saw no readiness event this cycle.
func (ms *ManagedSelector) updateKeys() {
	if len(ms.touchedFds) == 0 {
		return
	}
	for _, fd := range ms.touchedFds {
		key, ok := ms.lookupKey(fd)
		if !ok || !key.IsValid() {
			continue
		}
		if selectable, ok := key.Attachment().(Selectable); ok && selectable != nil {
			selectable.UpdateKey()
			ms.poller.Modify(key.Fd(), key.InterestOps())
		}
	}
	ms.touchedFds = ms.touchedFds[:0]
}

// doSelect blocks in the poller, clears the selecting flag, drains any
// updates that arrived during the block (left for the next
// processUpdates call rather than applied here, to keep application on the
// loop goroutine's single call site), and stashes results for
// processSelected.
func (ms *ManagedSelector) doSelect() (int, error) {
	buf := make([]reactor.PollEvent, 256)
	n, err := ms.poller.Wait(buf, DefaultSelectTimeout)
	if err == nil && n == 0 && ms.manager != nil && ms.manager.ForceSelectNow() {
		if n2, err2 := ms.poller.Wait(buf, 0); err2 == nil && n2 > 0 {
			n = n2
		}
	}
	late := ms.updates.EndSelect()
	if len(late) > 0 {
		ms.reQueue(late)
	}
	if err != nil {
		return 0, err
	}
	ms.pendingEvents = buf[:n]
	ms.eventIdx = 0
	return n, nil
}

// reQueue re-submits updates that arrived mid-select so the next
// processUpdates call applies them; the keys selected by this Wait are
// processed first, at the top of the Produce loop.
func (ms *ManagedSelector) reQueue(updates []SelectorUpdate) {
	for _, u := range updates {
		ms.updates.Submit(u)
	}
}
