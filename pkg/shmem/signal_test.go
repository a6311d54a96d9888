package shmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_TakePendingUnblockedSignal_ThreadFirst(t *testing.T) {
	proc := NewProcessShm(1)
	thr := NewThreadShm(1, 100)

	proc.SetPending(2, SigInfo{Signal: 2})
	thr.SetPending(5, SigInfo{Signal: 5})

	sig, info, ok := TakePendingUnblockedSignal(proc, thr)
	assert.True(t, ok)
	assert.Equal(t, Signal(5), sig)
	assert.Equal(t, Signal(5), info.Signal)
	assert.False(t, thr.Pending().Has(5))
}

func Test_TakePendingUnblockedSignal_SkipsBlocked(t *testing.T) {
	proc := NewProcessShm(1)
	thr := NewThreadShm(1, 100)

	thr.Blocked = thr.Blocked.Set(1)
	proc.SetPending(1, SigInfo{Signal: 1})
	proc.SetPending(2, SigInfo{Signal: 2})

	sig, _, ok := TakePendingUnblockedSignal(proc, thr)
	assert.True(t, ok)
	assert.Equal(t, Signal(2), sig)
}

func Test_TakePendingUnblockedSignal_None(t *testing.T) {
	proc := NewProcessShm(1)
	thr := NewThreadShm(1, 100)

	_, _, ok := TakePendingUnblockedSignal(proc, thr)
	assert.False(t, ok)
}

func Test_SetPendingStandardSigInfoRequiresPendingBit(t *testing.T) {
	proc := NewProcessShm(1)

	assert.Panics(t, func() {
		proc.SetPendingStandardSigInfo(3, SigInfo{Signal: 3})
	})

	proc.SetPending(3, SigInfo{})
	assert.NotPanics(t, func() {
		proc.SetPendingStandardSigInfo(3, SigInfo{Signal: 3, Code: 1})
	})

	info, ok := proc.PendingStandardSigInfo(3)
	assert.True(t, ok)
	assert.Equal(t, int32(1), info.Code)
}

func Test_CloneSignalActions(t *testing.T) {
	src := NewProcessShm(1)
	src.SetAction(7, SigAction{Configured: true, Token: 42})

	dst := NewProcessShm(1)
	dst.CloneSignalActions(src)

	assert.Equal(t, SigAction{Configured: true, Token: 42}, dst.Action(7))
}

func Test_HostShmLockUnlock(t *testing.T) {
	h := NewHostShm(1, Capability{}, 0)

	g := h.Lock()
	g.Get().UnappliedCPULatency = 5
	g.Unlock()

	assert.Panics(t, func() { g.Unlock() })

	g2 := h.Lock()
	assert.Equal(t, uint64(5), uint64(g2.Get().UnappliedCPULatency))
	g2.Unlock()
}
