// File: selector/key.go
// Author: momentics <momentics@gmail.com>
//
// SelectionKey binds a registered fd to its interest set and its
// application-level attachment. Most mutation happens on the selector's own
// loop goroutine (during processUpdates/updateKeys); a connect timeout
// cancels its key from the scheduler goroutine and an Accept builds its key
// on an executor goroutine. Every accessor takes the key's own mutex, so
// Attachment/IsValid are safe to call from any goroutine.
package selector

import (
	"sync"

	"github.com/vireon-io/netselect/reactor"
)

// SelectionKey is the selector-side handle for one registered fd.
type SelectionKey struct {
	mu        sync.Mutex
	fd        int
	interest  reactor.InterestOps
	attachment any
	valid     bool
}

func newSelectionKey(fd int, ops reactor.InterestOps, attachment any) *SelectionKey {
	return &SelectionKey{fd: fd, interest: ops, attachment: attachment, valid: true}
}

// Fd returns the underlying file descriptor.
func (k *SelectionKey) Fd() int { return k.fd }

// InterestOps returns the currently registered interest set.
func (k *SelectionKey) InterestOps() reactor.InterestOps {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.interest
}

// SetInterestOps changes the interest set. It reaches the poller when the
// owning ManagedSelector's updateKeys() next runs for this key, which
// happens only in a select cycle in which the key was selected.
func (k *SelectionKey) SetInterestOps(ops reactor.InterestOps) {
	k.mu.Lock()
	k.interest = ops
	k.mu.Unlock()
}

// Attachment returns the Selectable (or other value) bound to this key.
func (k *SelectionKey) Attachment() any {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.attachment
}

// Attach replaces the key's attachment.
func (k *SelectionKey) Attach(v any) {
	k.mu.Lock()
	k.attachment = v
	k.mu.Unlock()
}

// IsValid reports whether the key has not yet been cancelled.
func (k *SelectionKey) IsValid() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.valid
}

// cancel marks the key invalid. Called from the loop goroutine, and from
// the scheduler goroutine when a pending connect times out.
func (k *SelectionKey) cancel() {
	k.mu.Lock()
	k.valid = false
	k.mu.Unlock()
}
