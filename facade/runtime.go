// File: facade/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime is the assembled entry point: N selector.ManagedSelector shards,
// each with its own reactor.Poller and loop goroutine, sharing one
// concurrency.Executor, one concurrency.Scheduler, and one control.Control.
// Generalizes a single selector loop into N hash-sharded pollers behind
// one Config/DefaultConfig/New/Start/Stop surface.

package facade

import (
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vireon-io/netselect/api"
	"github.com/vireon-io/netselect/control"
	"github.com/vireon-io/netselect/internal/concurrency"
	"github.com/vireon-io/netselect/reactor"
	"github.com/vireon-io/netselect/selector"
	"go.uber.org/zap"
)

// Config holds parameters immutable per run.
type Config struct {
	NumWorkers      int           // Executor worker goroutine count; <=0 picks runtime.NumCPU()
	NUMANode        int           // Preferred NUMA node for the executor; -1 disables NUMA-aware pinning
	SessionShards   int           // Number of ManagedSelector shards (fd hash buckets)
	EnableMetrics   bool          // Whether Start registers baseline metrics
	CPUAffinity     bool          // Whether each shard's loop goroutine is pinned to a CPU
	ConnectTimeout  time.Duration // Bound on a pending outbound connect
	ShutdownTimeout time.Duration // Bound on Stop's drain wait
}

// DefaultConfig returns sane defaults for a single-process deployment.
func DefaultConfig() *Config {
	return &Config{
		NumWorkers:      4,
		NUMANode:        -1,
		SessionShards:   4,
		EnableMetrics:   true,
		CPUAffinity:     true,
		ConnectTimeout:  10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Runtime is the main facade type. It implements api.GracefulShutdown.
type Runtime struct {
	config   *Config
	log      *zap.Logger
	control  *control.Control
	executor *concurrency.Executor
	scheduler *concurrency.Scheduler
	manager  selector.Manager
	shards   []*selector.ManagedSelector
	closeSet *selector.CloseSet

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	shutdownTimeoutMs atomic.Int64
}

var _ api.GracefulShutdown = (*Runtime)(nil)

// New constructs a Runtime with cfg (nil selects DefaultConfig), driving
// manager's policy across cfg.SessionShards independent selector shards.
func New(cfg *Config, manager selector.Manager, log *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SessionShards <= 0 {
		cfg.SessionShards = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runtime{
		config:   cfg,
		log:      log,
		control:  control.New(),
		manager:  manager,
		closeSet: selector.NewSharedCloseSet(),
	}
	r.executor = concurrency.NewExecutor(cfg.NumWorkers, cfg.NUMANode, log)
	r.scheduler = concurrency.NewScheduler(r.executor)

	r.shards = make([]*selector.ManagedSelector, cfg.SessionShards)
	for i := 0; i < cfg.SessionShards; i++ {
		poller, err := reactor.NewPoller()
		if err != nil {
			r.executor.Close()
			r.scheduler.Close()
			return nil, fmt.Errorf("facade: new poller for shard %d: %w", i, err)
		}
		r.shards[i] = selector.New(i, manager, poller, r.executor, log)
	}

	r.shutdownTimeoutMs.Store(cfg.ShutdownTimeout.Milliseconds())
	r.control.SetConfig(map[string]any{
		control.KeyConnectTimeout: cfg.ConnectTimeout.Milliseconds(),
		control.KeyStopTimeout:    cfg.ShutdownTimeout.Milliseconds(),
		control.KeyForceSelectNow: manager.ForceSelectNow(),
		"session_shards":          cfg.SessionShards,
	})
	// stopTimeout is safe to change live (it only bounds a future Stop's
	// drain wait); forceSelectNow and connectTimeout come from the manager
	// and Config and are only mirrored into the store, so changing them there
	// affects no selector or connect. Reload re-reads stopTimeout only.
	r.control.OnReload(func() {
		cfg := r.control.GetConfig()
		if ms, ok := cfg[control.KeyStopTimeout].(int64); ok {
			r.shutdownTimeoutMs.Store(ms)
		}
	})
	return r, nil
}

// Start launches each shard's loop goroutine, optionally pinned per-shard
// to a CPU when Config.CPUAffinity is set.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	for i, shard := range r.shards {
		if err := shard.Start(nil); err != nil {
			return fmt.Errorf("facade: start shard %d: %w", i, err)
		}
		r.wg.Add(1)
		shardIdx := i
		go r.runShard(shardIdx, shard)
	}
	if r.config.EnableMetrics {
		r.control.Metrics.Set("shards", len(r.shards))
	}
	r.started = true
	return nil
}

func (r *Runtime) runShard(idx int, shard *selector.ManagedSelector) {
	defer r.wg.Done()
	if r.config.CPUAffinity {
		pinShardThread(r.config.NUMANode, idx)
	}
	for !shard.Stopped() {
		shard.Dispatch()
	}
	shard.Close()
}

// Stop closes every registered connection across all shards (deduplicated
// via the shared CloseSet) and signals every shard's loop to exit, then
// waits up to the live stopTimeout (Config.ShutdownTimeout, hot-reloadable
// via Control's KeyStopTimeout) for the loops to drain.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	for _, shard := range r.shards {
		shard.Stop(r.closeSet)
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	shutdownTimeout := time.Duration(r.shutdownTimeoutMs.Load()) * time.Millisecond
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		r.log.Warn("facade: shutdown timed out waiting for shard loops")
	}
	r.executor.Close()
	r.scheduler.Close()
	r.started = false
	return nil
}

// Shutdown implements api.GracefulShutdown by delegating to Stop.
func (r *Runtime) Shutdown() error { return r.Stop() }

// Control returns the shared config/metrics/debug surface.
func (r *Runtime) Control() api.Control { return r.control }

// Executor returns the shared task executor.
func (r *Runtime) Executor() api.Executor { return r.executor }

// Scheduler returns the shared timer scheduler.
func (r *Runtime) Scheduler() api.Scheduler { return r.scheduler }

// shardFor hash-routes fd to one of the runtime's shards, keeping every
// operation on a given fd pinned to the same ManagedSelector for its
// lifetime.
func (r *Runtime) shardFor(fd int) *selector.ManagedSelector {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d", fd)
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Submit routes update to the shard owning fd.
func (r *Runtime) Submit(fd int, update selector.SelectorUpdate) {
	r.shardFor(fd).Submit(update)
}

// Accept onboards an already-accepted, non-blocking fd onto its shard.
func (r *Runtime) Accept(fd int, attachment any) {
	r.Submit(fd, selector.NewAcceptUpdate(fd, attachment))
}

// Listen registers listenFd as an acceptor on a deterministically chosen
// shard (fd hash). That shard drains incoming connections and hands each
// accepted fd to the manager's Accepted hook; it does not register them.
func (r *Runtime) Listen(listenFd int) {
	r.Submit(listenFd, selector.NewAcceptorUpdate(listenFd))
}

// Connect watches fd (already connect()-ed in non-blocking mode) for
// completion or Config.ConnectTimeout, whichever comes first.
func (r *Runtime) Connect(fd int, finish selector.ConnectFinisher, callback selector.ConnectCallback) {
	r.Submit(fd, selector.NewConnectUpdate(fd, r.config.ConnectTimeout, finish, callback))
}

// Dump writes a snapshot of every shard's key table to w, blocking until
// each shard's loop goroutine has actually applied the dump so the output
// reflects a real point-in-time state rather than racing shard loops.
func (r *Runtime) Dump(w io.Writer) {
	for i, shard := range r.shards {
		fmt.Fprintf(w, "--- shard %d (size=%d) ---\n", i, shard.Size())
		done := make(chan struct{})
		shard.Submit(selector.NewSyncDumpKeysUpdate(w, done))
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			r.log.Warn("facade: dump timed out waiting for shard loop", zap.Int("shard", i))
		}
	}
}

// DestroyEndPoint tears down a single endpoint without waiting for a full
// Stop, routing the request to whichever shard owns fd.
func (r *Runtime) DestroyEndPoint(fd int, ep selector.EndPoint) {
	r.Submit(fd, selector.NewDestroyEndPointUpdate(ep))
}
