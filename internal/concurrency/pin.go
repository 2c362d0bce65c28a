// File: internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
//
// Thin bridge from a worker goroutine to the process-wide affinity package.
// Pinning a goroutine only pins whatever OS thread happens to be running it
// at the moment of the call; locking the goroutine to its thread first keeps
// that pin meaningful for the worker's lifetime.

package concurrency

import (
	"runtime"

	"github.com/vireon-io/netselect/affinity"
)

func pinWorker(numaNode, workerID int) {
	runtime.LockOSThread()
	ncpu := runtime.NumCPU()
	cpu := workerID % ncpu
	if numaNode > 0 {
		cpu = (cpu + numaNode*ncpu/2) % ncpu
	}
	_ = affinity.SetAffinity(cpu)
}
