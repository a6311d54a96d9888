// Package memmgr implements the plugin memory manager: cross-process
// reads/writes of guest memory via either a direct shared mapping or a
// copying fallback, per spec.md §4.9.
package memmgr

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Strategy selects how a Manager accesses a remote process's memory.
type Strategy int

const (
	// Mapped accesses guest memory through a shared mapping, requiring
	// no syscall per access. Used when the guest's memory region has
	// been mmap'd into this process.
	Mapped Strategy = iota
	// Copying falls back to process_vm_readv/process_vm_writev when no
	// shared mapping is available (e.g. the guest memory region has not
	// been registered yet).
	Copying
)

// Manager mediates access to one process's guest address space.
type Manager struct {
	pid      int
	strategy Strategy
	mapping  []byte // non-nil only in Mapped mode
	mapBase  uintptr
}

// NewMapped returns a Manager backed by an existing shared mapping
// covering [base, base+len(mapping)).
func NewMapped(pid int, base uintptr, mapping []byte) *Manager {
	return &Manager{pid: pid, strategy: Mapped, mapping: mapping, mapBase: base}
}

// NewCopying returns a Manager that always goes through
// process_vm_readv/writev.
func NewCopying(pid int) *Manager {
	return &Manager{pid: pid, strategy: Copying}
}

// Strategy reports which access strategy this Manager uses.
func (m *Manager) Strategy() Strategy { return m.strategy }

func (m *Manager) inMapping(addr uintptr, n int) (int, bool) {
	if m.strategy != Mapped {
		return 0, false
	}
	if addr < m.mapBase || addr+uintptr(n) > m.mapBase+uintptr(len(m.mapping)) {
		return 0, false
	}
	return int(addr - m.mapBase), true
}

// ReadInto copies n bytes starting at the guest's addr into dst, using
// the mapping directly when possible and falling back to
// process_vm_readv otherwise.
func (m *Manager) ReadInto(addr uintptr, dst []byte) error {
	n := len(dst)
	if off, ok := m.inMapping(addr, n); ok {
		copy(dst, m.mapping[off:off+n])
		return nil
	}

	local := []unix.Iovec{{Base: &dst[0], Len: uint64(n)}}
	remote := []unix.RemoteIovec{{Base: addr, Len: n}}
	got, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("memmgr: process_vm_readv: %w", err)
	}
	if got != n {
		return fmt.Errorf("memmgr: short read: got %d want %d", got, n)
	}
	return nil
}

// WriteFrom copies src into the guest's memory at addr.
func (m *Manager) WriteFrom(addr uintptr, src []byte) error {
	n := len(src)
	if n == 0 {
		return nil
	}
	if off, ok := m.inMapping(addr, n); ok {
		copy(m.mapping[off:off+n], src)
		return nil
	}

	local := []unix.Iovec{{Base: &src[0], Len: uint64(n)}}
	remote := []unix.RemoteIovec{{Base: addr, Len: n}}
	put, err := unix.ProcessVMWritev(m.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("memmgr: process_vm_writev: %w", err)
	}
	if put != n {
		return fmt.Errorf("memmgr: short write: put %d want %d", put, n)
	}
	return nil
}

// MaxPathLen is PATH_MAX, the ENAMETOOLONG boundary for CopyStrFromPtr.
const MaxPathLen = 4096

// CopyStrFromPtr reads a NUL-terminated string from guest memory at addr,
// refusing to scan past MaxPathLen bytes (ENAMETOOLONG), per spec.md
// §4.9.
func (m *Manager) CopyStrFromPtr(addr uintptr) (string, error) {
	const chunk = 256
	buf := make([]byte, 0, chunk)
	scratch := make([]byte, chunk)

	for total := 0; total < MaxPathLen; total += chunk {
		n := chunk
		if total+n > MaxPathLen {
			n = MaxPathLen - total
		}
		if err := m.ReadInto(addr+uintptr(total), scratch[:n]); err != nil {
			return "", err
		}
		if idx := indexByte(scratch[:n], 0); idx >= 0 {
			buf = append(buf, scratch[:idx]...)
			return string(buf), nil
		}
		buf = append(buf, scratch[:n]...)
	}
	return "", fmt.Errorf("memmgr: string at 0x%x exceeds %d bytes: %w", addr, MaxPathLen, unix.ENAMETOOLONG)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
