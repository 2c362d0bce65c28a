// File: internal/concurrency/strategy.go
// Author: momentics <momentics@gmail.com>
//
// ExecutionStrategy implements an "eat what you kill" producer/consumer
// loop: the goroutine that successfully produces a task runs it inline
// rather than handing it to the Executor, avoiding a context switch, and
// then produces again. Production is never handed off to another
// goroutine, so a task that blocks also blocks further production until it
// returns.
// Grounded on Jetty's EatWhatYouKill, referenced from ManagedSelector's
// `_strategy = new EatWhatYouKill(producer, executor)`.
package concurrency

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Producer yields the next runnable task, or nil when none is currently
// available, and reports through more whether the strategy should call
// Produce again; the strategy stops producing once more is false.
type Producer interface {
	Produce() (task func(), more bool)
}

const (
	stateIdle int32 = iota
	stateProducing
	statePending
)

// ExecutionStrategy drives a Producer on the goroutine that called
// Dispatch, executing everything it produces inline (eat what you kill). A
// Dispatch that arrives while production is already underway makes the
// producing goroutine loop again; it does not start a second producer.
type ExecutionStrategy struct {
	log      *zap.Logger
	producer Producer
	exec     *Executor
	state    int32
	mu       sync.Mutex
}

// NewExecutionStrategy builds a strategy over producer. exec is stored but
// not used: produced tasks and re-production both run on the dispatching
// goroutine.
func NewExecutionStrategy(producer Producer, exec *Executor, log *zap.Logger) *ExecutionStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecutionStrategy{producer: producer, exec: exec, log: log}
}

// Dispatch requests that the strategy produce and run at least one task. If
// production is already in progress on another goroutine, this call returns
// immediately having arranged for that goroutine to loop again once it's
// done (the "pending" state), rather than invoking Produce concurrently.
func (s *ExecutionStrategy) Dispatch() {
	if !atomic.CompareAndSwapInt32(&s.state, stateIdle, stateProducing) {
		atomic.StoreInt32(&s.state, statePending)
		return
	}
	s.run()
}

func (s *ExecutionStrategy) run() {
	for {
		task, more := s.producer.Produce()
		if task != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("concurrency: execution strategy task panic", zap.Any("recover", r))
					}
				}()
				task()
			}()
		}
		if !more {
			if atomic.CompareAndSwapInt32(&s.state, stateProducing, stateIdle) {
				return
			}
			// A Dispatch arrived mid-production (state was flipped to
			// statePending); loop again instead of racing to idle.
			atomic.StoreInt32(&s.state, stateProducing)
			continue
		}
		if atomic.LoadInt32(&s.state) == statePending {
			// Someone asked for another round; keep this goroutine eating
			// rather than spawning a second producer.
			atomic.StoreInt32(&s.state, stateProducing)
		}
	}
}
