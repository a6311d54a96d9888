package shmem

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// DeriveCapability deterministically derives a host's root capability
// token from the simulation's seed and the host's ID, so repeated runs
// with the same config seed hand out identical tokens (spec.md §1's
// "deterministic, reproducible runs" requirement). A real process_vm_readv
// target never sees this value reused across hosts: seed and hostID are
// mixed through a keyed BLAKE2b-128 hash rather than concatenated and
// truncated, so adjacent host IDs don't produce adjacent tokens.
func DeriveCapability(seed uint64, id HostID) Capability {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)

	h, err := blake2b.New(16, seedBytes[:])
	if err != nil {
		// New(size<=64, key<=64) only errors on an oversized key; seedBytes
		// is fixed at 8 bytes, so this is unreachable.
		panic("shmem: blake2b.New: " + err.Error())
	}

	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], uint32(id))
	h.Write(idBytes[:])

	var cap Capability
	copy(cap[:], h.Sum(nil))
	return cap
}
