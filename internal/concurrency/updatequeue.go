// File: internal/concurrency/updatequeue.go
// Author: momentics <momentics@gmail.com>
//
// UpdateQueue is the pending-update FIFO used by a selector loop to accept
// submissions from any goroutine while only ever being drained from the
// single loop goroutine. It holds one queue; draining copies its entries
// into a fresh slice under the lock, which the loop then applies without
// holding it. Generic over T so this package never
// needs to import the selector package's concrete update type - the
// opposite dependency (selector importing concurrency) is the one that
// matters, since the loop itself lives there.
package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// UpdateQueue buffers values of type T behind a single mutex that also
// guards a "selecting" flag the caller uses to decide whether a wakeup is
// necessary (mirrors the Jetty ManagedSelector's combined
// updates+selecting monitor).
type UpdateQueue[T any] struct {
	mu        sync.Mutex
	active    *queue.Queue
	selecting bool
}

// NewUpdateQueue constructs an empty queue.
func NewUpdateQueue[T any]() *UpdateQueue[T] {
	return &UpdateQueue[T]{active: queue.New()}
}

// Submit appends an update and reports whether the caller must wake the
// poller (true when a select is currently in progress and therefore won't
// observe the new entry without an explicit nudge). Clears selecting in the
// same locked step as the true decision, so of N concurrent submits during
// one blocked Wait, only the one that actually flips selecting is told to
// wake it - the rest see selecting already false and skip the syscall.
func (q *UpdateQueue[T]) Submit(update T) (needsWakeup bool) {
	q.mu.Lock()
	q.active.Add(update)
	needsWakeup = q.selecting
	if needsWakeup {
		q.selecting = false
	}
	q.mu.Unlock()
	return needsWakeup
}

// BeginSelect marks the queue as "selecting" and drains whatever was
// queued up to this point, returning it as a slice for the caller to apply
// before blocking in the poller. The selecting flag stays set until
// EndSelect is called or a Submit clears it, so the first Submit during the
// blocking Wait reports needsWakeup == true and later ones report false.
func (q *UpdateQueue[T]) BeginSelect() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.selecting = true
	return q.drainLocked()
}

// EndSelect clears the selecting flag and drains anything submitted while
// the poller was blocked.
func (q *UpdateQueue[T]) EndSelect() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.selecting = false
	return q.drainLocked()
}

// Drain empties the queue unconditionally, independent of selecting state.
func (q *UpdateQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

func (q *UpdateQueue[T]) drainLocked() []T {
	n := q.active.Length()
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.active.Peek().(T))
		q.active.Remove()
	}
	return out
}

// Len reports the number of pending, undrained updates.
func (q *UpdateQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active.Length()
}
