// Package workerctx models the per-thread "thread-local" worker context
// and the process-wide shared state it reads from, per spec.md §4.11.
//
// Real native Shadow keeps this in actual thread-local storage. Go has no
// thread-locals, so the engine keeps one Context value per host instead
// and passes it explicitly to whichever goroutine runs that host in a
// round; a round runs each host on a single goroutine, so no two
// goroutines use one Context at the same time (an Open Question
// resolution recorded in DESIGN.md).
package workerctx

import (
	"sync/atomic"

	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
)

// Context is the state private to one worker goroutine while it holds a
// host's lock and drives its event queue forward. It implements
// dispatch.HostClock directly against its Shared block so the dispatch
// package never needs its own adapter.
type Context struct {
	ActiveHost    shmem.HostID
	ActiveProcess uint32
	ActiveThread  uint32

	CurrentTime        simtime.SimulationTime
	RoundEndTime       simtime.SimulationTime
	LowestUsedLatency  simtime.SimulationTime
	NextEventTimeFloor simtime.SimulationTime

	SyscallCount uint64
	AllocCount   uint64

	Shared *Shared
}

// SimEnd returns the simulation's configured end time.
func (c *Context) SimEnd() simtime.SimulationTime { return c.Shared.SimEndTime }

// BootstrapEnd returns the simulation's configured bootstrap end time.
func (c *Context) BootstrapEnd() simtime.SimulationTime { return c.Shared.BootstrapEndTime }

// Current returns the worker's current virtual time.
func (c *Context) Current() simtime.SimulationTime { return c.CurrentTime }

// RoundEnd returns the round's end time.
func (c *Context) RoundEnd() simtime.SimulationTime { return c.RoundEndTime }

// UpdateLowestUsedLatency folds delay into the latched lowest-used
// latency, which is never allowed to become zero (spec.md §4.9).
func (c *Context) UpdateLowestUsedLatency(delay simtime.SimulationTime) {
	if delay == 0 {
		return
	}
	if c.LowestUsedLatency == 0 || delay < c.LowestUsedLatency {
		c.LowestUsedLatency = delay
	}
}

// UpdateNextEventTime folds deliverTime into the floor this worker's
// host clock may not advance past next round.
func (c *Context) UpdateNextEventTime(deliverTime simtime.SimulationTime) {
	if c.NextEventTimeFloor == 0 || deliverTime < c.NextEventTimeFloor {
		c.NextEventTimeFloor = deliverTime
	}
}

// CountSyscall increments this worker's syscall counter.
func (c *Context) CountSyscall() { c.SyscallCount++ }

// CountAlloc increments this worker's allocation counter.
func (c *Context) CountAlloc(n uint64) { c.AllocCount += n }

// Shared holds process-wide, read-mostly state every worker consults.
// Mutations go through atomic counters or the caller's own locking;
// reads during a round are lock-free, per spec.md §4.11.
type Shared struct {
	BootstrapEndTime simtime.SimulationTime
	SimEndTime       simtime.SimulationTime

	childPIDWatcherGen atomic.Uint64
}

// NewShared returns a Shared block with the given bootstrap/end times.
func NewShared(bootstrapEnd, simEnd simtime.SimulationTime) *Shared {
	return &Shared{BootstrapEndTime: bootstrapEnd, SimEndTime: simEnd}
}

// BumpChildPIDWatcher records that the child-PID watcher has observed a
// process exit, incrementing a lock-free generation counter workers can
// poll without contending with each other.
func (s *Shared) BumpChildPIDWatcher() { s.childPIDWatcherGen.Add(1) }

// ChildPIDWatcherGeneration returns the current generation counter.
func (s *Shared) ChildPIDWatcherGeneration() uint64 { return s.childPIDWatcherGen.Load() }
