// File: internal/concurrency/executor.go
// Package concurrency implements a NUMA-aware task executor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines, using lock-free local
// queues and a global channel fallback; each worker takes tasks only from
// its own local queue and the global channel. It backs api.Executor
// (general task dispatch) and the Scheduler's expired timer callbacks.

package concurrency

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/api"
	"go.uber.org/zap"
)

// ErrExecutorClosed is returned by Submit once the executor has been closed.
var ErrExecutorClosed = errors.New("concurrency: executor closed")

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines. It implements api.Executor.
type Executor struct {
	log         *zap.Logger
	globalQueue chan TaskFunc
	localQueues []*lockFreeQueue[TaskFunc]
	workers     []*worker
	closeCh     chan struct{}
	closed      int32
	numWorkers  int32
	mu          sync.RWMutex

	totalTasks     int64
	completedTasks int64
	roundRobin     int64
}

// NewExecutor creates a new Executor with the given number of workers and
// optional NUMA node (numaNode < 0 disables pinning). If numWorkers <= 0,
// defaults to runtime.NumCPU().
func NewExecutor(numWorkers, numaNode int, log *zap.Logger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		log:         log,
		globalQueue: make(chan TaskFunc, numWorkers*4),
		closeCh:     make(chan struct{}),
		numWorkers:  int32(numWorkers),
	}
	e.localQueues = make([]*lockFreeQueue[TaskFunc], numWorkers)
	e.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		e.localQueues[i] = NewLockFreeQueue[TaskFunc](1024)
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{id: i, executor: e, localQueue: e.localQueues[i], stopCh: make(chan struct{})}
		e.workers[i] = w
		go w.run(numaNode)
	}
	return e
}

// Submit enqueues a task for execution, returning ErrExecutorClosed if the
// executor has already been closed and api.ErrResourceExhausted if both the
// chosen local queue and the global queue are full. Enqueues are serialized
// under mu because each local queue accepts only one producer at a time.
func (e *Executor) Submit(task func()) error {
	if atomic.LoadInt32(&e.closed) == 1 {
		return ErrExecutorClosed
	}
	atomic.AddInt64(&e.totalTasks, 1)
	e.mu.Lock()
	idx := int(atomic.AddInt64(&e.roundRobin, 1) % int64(len(e.localQueues)))
	enqueued := e.localQueues[idx].Enqueue(task)
	e.mu.Unlock()
	if enqueued {
		return nil
	}
	select {
	case e.globalQueue <- task:
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	default:
		return api.ErrResourceExhausted
	}
}

// NumWorkers returns the current number of active workers.
func (e *Executor) NumWorkers() int {
	return int(atomic.LoadInt32(&e.numWorkers))
}

// Resize adjusts worker concurrency at runtime by stopping the pool and
// relaunching it with newCount workers. Queued-but-undelivered tasks in
// local queues are dropped; callers that need drain semantics should quiesce
// submission before resizing.
func (e *Executor) Resize(newCount int) {
	if newCount <= 0 || atomic.LoadInt32(&e.closed) == 1 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.workers {
		close(w.stopCh)
	}
	e.localQueues = make([]*lockFreeQueue[TaskFunc], newCount)
	e.workers = make([]*worker, newCount)
	for i := 0; i < newCount; i++ {
		e.localQueues[i] = NewLockFreeQueue[TaskFunc](1024)
	}
	numaNode := -1
	for i := 0; i < newCount; i++ {
		w := &worker{id: i, executor: e, localQueue: e.localQueues[i], stopCh: make(chan struct{})}
		e.workers[i] = w
		go w.run(numaNode)
	}
	atomic.StoreInt32(&e.numWorkers, int32(newCount))
}

// Close gracefully shuts down the executor and signals all workers to exit.
func (e *Executor) Close() error {
	if atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		close(e.closeCh)
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, w := range e.workers {
			close(w.stopCh)
		}
	}
	return nil
}

// Stats returns basic executor metrics for control.MetricsRegistry.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"total_tasks":     atomic.LoadInt64(&e.totalTasks),
		"completed_tasks": atomic.LoadInt64(&e.completedTasks),
		"pending_tasks":   atomic.LoadInt64(&e.totalTasks) - atomic.LoadInt64(&e.completedTasks),
		"num_workers":     int64(e.NumWorkers()),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id         int
	executor   *Executor
	localQueue *lockFreeQueue[TaskFunc]
	stopCh     chan struct{}
	stopped    int32
}

func (w *worker) run(numaNode int) {
	defer atomic.StoreInt32(&w.stopped, 1)
	if numaNode >= 0 {
		pinWorker(numaNode, w.id)
	}
	backoff := time.Microsecond
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if task, ok := w.localQueue.Dequeue(); ok {
			w.executeTask(task)
			backoff = time.Microsecond
			continue
		}
		select {
		case task := <-w.executor.globalQueue:
			w.executeTask(task)
			backoff = time.Microsecond
		case <-w.stopCh:
			return
		default:
			time.Sleep(backoff)
			if backoff < time.Millisecond {
				backoff *= 2
			}
		}
	}
}

func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			w.executor.log.Error("concurrency: task panic recovered", zap.Any("recover", r), zap.Int("worker", w.id))
		}
		atomic.AddInt64(&w.executor.completedTasks, 1)
	}()
	task()
}
