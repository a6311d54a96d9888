package shmem

import (
	"sync/atomic"

	"github.com/shadow-sim/engine/pkg/simtime"
)

// atomicSimTime is a lock-free holder for a SimulationTime, used for the
// host's current-virtual-time field which must be readable without
// contending the host lock (spec.md §4.11).
type atomicSimTime struct {
	v atomic.Uint64
}

func (a *atomicSimTime) load() simtime.SimulationTime {
	return simtime.SimulationTime(a.v.Load())
}

func (a *atomicSimTime) store(t simtime.SimulationTime) {
	a.v.Store(uint64(t))
}
