// File: facade/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Per-shard CPU pinning: one pin per shard loop goroutine instead of a
// single global pin, since each shard owns its own poller and loop.
package facade

import (
	"runtime"

	"github.com/vireon-io/netselect/affinity"
)

func pinShardThread(numaNode, shardIdx int) {
	runtime.LockOSThread()
	ncpu := runtime.NumCPU()
	cpu := shardIdx % ncpu
	if numaNode > 0 {
		cpu = (cpu + numaNode*ncpu/2) % ncpu
	}
	_ = affinity.SetAffinity(cpu)
}
