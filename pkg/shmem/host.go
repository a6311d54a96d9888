package shmem

import (
	"github.com/shadow-sim/engine/pkg/simtime"
)

// HostID identifies a host within a simulation.
type HostID uint32

// Capability is an opaque, per-host root capability token. The reference
// implementation derives this from a per-thread random value; here it is
// a deterministic 128-bit token derived from the simulation's seed and the
// host's ID via DeriveCapability (see SPEC_FULL.md, Open Question on
// determinism).
type Capability [16]byte

// HostShmProtected holds the fields of HostShm that must only be touched
// while the host lock is held: the root capability, the unapplied CPU
// latency accumulator, and the maximum run-ahead time.
type HostShmProtected struct {
	RootCapability       Capability
	UnappliedCPULatency  simtime.SimulationTime
	MaxRunaheadTime       simtime.SimulationTime
}

// HostShm is the fixed-layout record shared between the simulator and the
// guest shim for one host. RuntimeFlags and the atomic current sim-time
// are read without taking Protected's lock; everything reachable only
// through Protected requires it.
type HostShm struct {
	HostID HostID

	// Protected guards RootCapability, UnappliedCPULatency and
	// MaxRunaheadTime; see spec.md §3 "HostShm / ProcessShm / ThreadShm".
	Protected *SelfContainedMutex[HostShmProtected]

	Flags RuntimeFlags

	SimulatorPID int32
	TSCHz        uint64
	ShimLogLevel int32

	// CurrentSimTime is read/written with atomics from both sides; it is
	// not behind Protected because every read of "now" must be lock-free
	// on the syscall-emulation hot path (spec.md §4.11 "reads during a
	// round are lock-free").
	currentSimTime atomicSimTime
}

// RuntimeFlags mirrors spec.md §6's HostShm runtime-flags group.
type RuntimeFlags struct {
	ModelUnblockedSyscallLatency bool
	MaxUnappliedCPULatency       simtime.SimulationTime
	UnblockedSyscallLatency      simtime.SimulationTime
	UnblockedVDSOLatency         simtime.SimulationTime
}

// NewHostShm constructs a HostShm for the given host, seeding its root
// capability from cap (typically DeriveCapability(seed, id)).
func NewHostShm(id HostID, cap Capability, maxRunahead simtime.SimulationTime) *HostShm {
	return &HostShm{
		HostID: id,
		Protected: NewSelfContainedMutex(HostShmProtected{
			RootCapability: cap,
			MaxRunaheadTime: maxRunahead,
		}),
	}
}

// CurrentSimTime atomically reads the host's current virtual time.
func (h *HostShm) CurrentSimTime() simtime.SimulationTime {
	return h.currentSimTime.load()
}

// SetCurrentSimTime atomically stores the host's current virtual time.
func (h *HostShm) SetCurrentSimTime(t simtime.SimulationTime) {
	h.currentSimTime.store(t)
}

// Lock takes the host lock, returning a guard over HostShmProtected.
// Callers must Unlock before yielding control back to the guest.
func (h *HostShm) Lock() *MutexGuard[HostShmProtected] {
	return h.Protected.Lock()
}
