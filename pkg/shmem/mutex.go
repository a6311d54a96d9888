// Package shmem implements the lock-protected control-block records
// through which the simulator and the in-guest shim exchange state:
// HostShm, ProcessShm, ThreadShm, and the signal operations defined over
// them. In the reference implementation these are repr(C) structs mapped
// into both address spaces; Go has no equivalent of a cross-process
// pointer-free mapped struct, so here they are plain Go values shared by
// reference between the host-owning goroutine and the worker that is
// currently driving that host — see SPEC_FULL.md §4.2.
package shmem

import "sync"

// SelfContainedMutex bundles a mutex with the value it protects, so the
// lock can never be taken without also getting access to the payload, and
// the payload can never be read without holding the lock. Modelled after
// the teacher pack's small generic wrapper types (e.g. route's MapTrie).
type SelfContainedMutex[T any] struct {
	mu      sync.Mutex
	payload T
}

// NewSelfContainedMutex wraps payload in a SelfContainedMutex.
func NewSelfContainedMutex[T any](payload T) *SelfContainedMutex[T] {
	return &SelfContainedMutex[T]{payload: payload}
}

// MutexGuard is the result of locking a SelfContainedMutex. It exposes the
// protected payload for the duration the guard is held; the only way back
// to an unlocked state is calling Unlock, which spec.md §4.2 requires
// happen before control yields to the guest.
type MutexGuard[T any] struct {
	m *SelfContainedMutex[T]
}

// Lock takes the lock and returns a guard exposing the protected payload.
func (m *SelfContainedMutex[T]) Lock() *MutexGuard[T] {
	m.mu.Lock()
	return &MutexGuard[T]{m: m}
}

// Get returns a pointer to the protected payload. Valid only while the
// guard has not been unlocked.
func (g *MutexGuard[T]) Get() *T {
	return &g.m.payload
}

// Unlock releases the lock. Calling it twice on the same guard panics,
// mirroring the "release is mandatory, exactly once" contract in spec.md.
func (g *MutexGuard[T]) Unlock() {
	if g.m == nil {
		panic("shmem: MutexGuard unlocked twice")
	}
	m := g.m
	g.m = nil
	m.mu.Unlock()
}
