package shmem

import "fmt"

// ProcessShm is the per-process record shared with the guest: pending
// signals, per-standard-signal siginfo, and per-signal (standard +
// realtime) sigaction.
type ProcessShm struct {
	HostID HostID

	pending SignalSet
	// siginfo is indexed by standard signal number - 1; see spec.md §3.
	siginfo [NumStandardSignals]SigInfo
	actions [NumSignals]SigAction

	StraceFD int32 // -1 when unset
}

// NewProcessShm constructs an empty ProcessShm for hostID.
func NewProcessShm(hostID HostID) *ProcessShm {
	return &ProcessShm{HostID: hostID, StraceFD: -1}
}

// Pending returns the current process-directed pending-signal set.
func (p *ProcessShm) Pending() SignalSet { return p.pending }

// PendingStandardSigInfo returns the siginfo for sig iff its pending bit
// is set, per spec.md §4.2.
func (p *ProcessShm) PendingStandardSigInfo(sig Signal) (SigInfo, bool) {
	if sig < 1 || int(sig) > NumStandardSignals {
		return SigInfo{}, false
	}
	if !p.pending.Has(sig) {
		return SigInfo{}, false
	}
	return p.siginfo[sig-1], true
}

// SetPendingStandardSigInfo stores siginfo for sig. The caller must have
// already set the pending bit (e.g. via SetPending); this is a caller
// invariant per spec.md §4.2, not something this function checks by
// returning an error — violating it panics so the bug surfaces at the
// call site instead of silently producing an unreadable pending signal.
func (p *ProcessShm) SetPendingStandardSigInfo(sig Signal, info SigInfo) {
	if sig < 1 || int(sig) > NumStandardSignals {
		panic(fmt.Sprintf("shmem: signal %d is not a standard signal", sig))
	}
	if !p.pending.Has(sig) {
		panic(fmt.Sprintf("shmem: signal %d pending bit must be set before its siginfo", sig))
	}
	p.siginfo[sig-1] = info
}

// SetPending marks sig pending for the process and, for standard signals,
// records its siginfo in the same call so the invariant in
// SetPendingStandardSigInfo always holds.
func (p *ProcessShm) SetPending(sig Signal, info SigInfo) {
	p.pending = p.pending.Set(sig)
	if int(sig) <= NumStandardSignals {
		p.siginfo[sig-1] = info
	}
}

// ClearPending clears sig's pending bit.
func (p *ProcessShm) ClearPending(sig Signal) {
	p.pending = p.pending.Clear(sig)
}

// Action returns the configured sigaction for sig.
func (p *ProcessShm) Action(sig Signal) SigAction {
	return p.actions[sig-1]
}

// SetAction configures the sigaction for sig.
func (p *ProcessShm) SetAction(sig Signal, action SigAction) {
	p.actions[sig-1] = action
}

// CloneSignalActions copies src's sigaction array verbatim into p.
//
// This is only semantically valid immediately after fork: the tokens
// stored in SigAction only mean anything inside the matching managed
// process that configured them (spec.md §4.2).
func (p *ProcessShm) CloneSignalActions(src *ProcessShm) {
	p.actions = src.actions
}
