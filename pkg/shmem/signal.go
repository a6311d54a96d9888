package shmem

// NumStandardSignals is the count of standard (non-realtime) POSIX
// signals, 1..=NumStandardSignals.
const NumStandardSignals = 31

// NumRealtimeSignals is the count of realtime signals layered on top of
// the standard ones.
const NumRealtimeSignals = 33

// NumSignals is the total signal-array width: standard plus realtime.
const NumSignals = NumStandardSignals + NumRealtimeSignals

// Signal is a 1-based POSIX signal number; arrays below are indexed by
// signal-1 per spec.md §3 invariant.
type Signal int32

// SignalSet is a bitmask over signals 1..=NumSignals, indexed by signal-1.
type SignalSet uint64

// Has reports whether sig is present in the set.
func (s SignalSet) Has(sig Signal) bool {
	return s&(1<<uint(sig-1)) != 0
}

// Set returns a copy of s with sig added.
func (s SignalSet) Set(sig Signal) SignalSet {
	return s | (1 << uint(sig-1))
}

// Clear returns a copy of s with sig removed.
func (s SignalSet) Clear(sig Signal) SignalSet {
	return s &^ (1 << uint(sig-1))
}

// SigInfo is the siginfo_t payload carried for a pending standard signal.
// Only the fields the engine actually threads through are modelled; a
// full siginfo_t union is an external-collaborator concern (the shim's
// ABI layer), not this package's.
type SigInfo struct {
	Signal Signal
	Code   int32
	PID    int32
	UID    uint32
}

// SigAction mirrors struct sigaction for one signal slot: handler/disposition
// is opaque to the engine (it only ever round-trips it between fork and
// exec boundaries), so it is stored as an opaque token rather than a
// function pointer — Go cannot, and must not, call into guest code
// directly.
type SigAction struct {
	Configured bool
	Token      uint64
	Flags      uint64
}
