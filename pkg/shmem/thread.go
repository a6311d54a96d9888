package shmem

// AltStack mirrors the subset of struct sigaltstack the engine threads
// through: base pointer (opaque, guest-address-space), size, and flags.
type AltStack struct {
	Base  uint64 // guest virtual address, opaque to the simulator
	Size  uint64
	Flags int32
}

// ThreadShm is the per-thread record shared with the guest: thread id,
// thread-directed pending signals, blocked mask, and alt-stack.
type ThreadShm struct {
	HostID HostID
	TID    int32

	pending SignalSet
	siginfo [NumStandardSignals]SigInfo
	Blocked SignalSet

	AltStack AltStack
}

// NewThreadShm constructs a ThreadShm for the given host and guest TID.
func NewThreadShm(hostID HostID, tid int32) *ThreadShm {
	return &ThreadShm{HostID: hostID, TID: tid}
}

// Pending returns the thread-directed pending-signal set.
func (t *ThreadShm) Pending() SignalSet { return t.pending }

// SetPending marks sig pending for this thread, recording its siginfo for
// standard signals in the same call (same invariant as ProcessShm).
func (t *ThreadShm) SetPending(sig Signal, info SigInfo) {
	t.pending = t.pending.Set(sig)
	if int(sig) <= NumStandardSignals {
		t.siginfo[sig-1] = info
	}
}

// ClearPending clears sig's pending bit for this thread.
func (t *ThreadShm) ClearPending(sig Signal) {
	t.pending = t.pending.Clear(sig)
}

// TakePendingUnblockedSignal selects the lowest-numbered signal in
// thread.pending & ^thread.Blocked or, if there is none, the lowest in
// process.pending & ^thread.Blocked; it clears that pending bit on the
// record it came from and returns (sig, info, true). Thread-directed
// signals are drained before process-directed ones, per spec.md §4.2.
func TakePendingUnblockedSignal(proc *ProcessShm, thr *ThreadShm) (Signal, SigInfo, bool) {
	if sig, info, ok := takeFirstUnblocked(thr.pending, thr.Blocked, func(sig Signal) SigInfo {
		if int(sig) <= NumStandardSignals {
			return thr.siginfo[sig-1]
		}
		return SigInfo{Signal: sig}
	}); ok {
		thr.ClearPending(sig)
		return sig, info, true
	}

	if sig, info, ok := takeFirstUnblocked(proc.pending, thr.Blocked, func(sig Signal) SigInfo {
		if int(sig) <= NumStandardSignals {
			return proc.siginfo[sig-1]
		}
		return SigInfo{Signal: sig}
	}); ok {
		proc.ClearPending(sig)
		return sig, info, true
	}

	return 0, SigInfo{}, false
}

func takeFirstUnblocked(pending, blocked SignalSet, infoFor func(Signal) SigInfo) (Signal, SigInfo, bool) {
	for sig := Signal(1); int(sig) <= NumSignals; sig++ {
		if pending.Has(sig) && !blocked.Has(sig) {
			return sig, infoFor(sig), true
		}
	}
	return 0, SigInfo{}, false
}
