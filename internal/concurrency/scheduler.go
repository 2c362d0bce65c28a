// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer-wheel-free scheduler backed by a container/heap min-heap ordered by
// deadline, matching the no-external-library timer-queue idiom used
// elsewhere in this corpus for event loops.

package concurrency

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/api"
)

// ErrCancelled is returned by a timerTask's Err() once it has been cancelled.
var ErrCancelled = errors.New("concurrency: task cancelled")

// timerTask is one scheduled callback.
type timerTask struct {
	deadline  time.Time
	fn        func()
	index     int
	cancelled int32
	done      chan struct{}
	doneOnce  sync.Once
}

func newTimerTask(deadline time.Time, fn func()) *timerTask {
	return &timerTask{deadline: deadline, fn: fn, done: make(chan struct{})}
}

func (t *timerTask) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *timerTask) Cancel() error {
	atomic.StoreInt32(&t.cancelled, 1)
	t.finish()
	return nil
}

func (t *timerTask) Done() <-chan struct{} {
	return t.done
}

func (t *timerTask) Err() error {
	if atomic.LoadInt32(&t.cancelled) == 1 {
		return ErrCancelled
	}
	return nil
}

type taskHeap []*timerTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler runs timer callbacks at their scheduled deadline on a single
// dedicated goroutine. It implements api.Scheduler.
type Scheduler struct {
	mu     sync.Mutex
	timerQ taskHeap
	notify chan struct{}
	stop   chan struct{}
	closed int32
	exec   *Executor
}

// NewScheduler starts a scheduler goroutine. Expired tasks are handed to
// exec.Submit rather than run inline, so a slow callback never stalls the
// timer loop; exec may be nil, in which case tasks run directly on the
// timer goroutine (acceptable for tests and low-rate use).
func NewScheduler(exec *Executor) *Scheduler {
	s := &Scheduler{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exec:   exec,
	}
	heap.Init(&s.timerQ)
	go s.run()
	return s
}

// Schedule arranges for fn to run after delayNanos nanoseconds elapse.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	if delayNanos < 0 {
		delayNanos = 0
	}
	t := newTimerTask(time.Now().Add(time.Duration(delayNanos)), fn)
	s.mu.Lock()
	heap.Push(&s.timerQ, t)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return t, nil
}

// Cancel marks a previously scheduled task as cancelled; it becomes a no-op
// when its deadline is reached rather than being removed from the heap
// immediately (cheaper than a heap.Fix-based removal for the common case of
// far-future cancellations).
func (s *Scheduler) Cancel(c api.Cancelable) error {
	return c.Cancel()
}

// schedulerEpoch anchors Now; time.Since measures against Go's monotonic
// clock reading, so wall-clock adjustments do not move Now backwards.
var schedulerEpoch = time.Now()

// Now returns monotonic time in nanoseconds since package initialisation.
func (s *Scheduler) Now() int64 {
	return time.Since(schedulerEpoch).Nanoseconds()
}

// Close stops the scheduler goroutine. Pending tasks are discarded.
func (s *Scheduler) Close() error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.stop)
	}
	return nil
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Hour)
			select {
			case <-s.notify:
				continue
			case <-timer.C:
				continue
			case <-s.stop:
				return
			}
		}
		next := s.timerQ[0]
		wait := time.Until(next.deadline)
		s.mu.Unlock()
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			continue
		}
		due := s.timerQ[0]
		if time.Now().Before(due.deadline) {
			s.mu.Unlock()
			continue
		}
		heap.Pop(&s.timerQ)
		s.mu.Unlock()
		if atomic.LoadInt32(&due.cancelled) == 1 {
			continue
		}
		fn := due.fn
		task := due
		run := func() {
			defer task.finish()
			fn()
		}
		if s.exec != nil {
			_ = s.exec.Submit(run)
		} else {
			run()
		}
	}
}
