// Package packet implements the reference-counted Packet type and its
// wire encoding, per spec.md §3 and §6.
package packet

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/shadow-sim/engine/pkg/sockaddr"
)

// Protocol tags a Packet's payload protocol.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoUDP
)

// Status is a monotonically-updated delivery-status bitmask.
type Status uint32

const (
	StatusCreated Status = 1 << iota
	StatusBuffered
	StatusSent
	StatusDelivered
	StatusDropped
)

// Has reports whether flag is set.
func (s Status) Has(flag Status) bool { return s&flag != 0 }

// maxPayloadLen is 2^32 - 1, the spec.md §3 total-length ceiling.
const maxPayloadLen = 1<<32 - 1

// body is the shared, reference-counted backing data for a Packet. Clones
// of a Packet share one body; the last clone to be released frees it
// (there is nothing to free explicitly in Go beyond letting the GC
// reclaim it, but refs is still tracked to make the reference-counted
// contract in spec.md §3 observable and testable).
type body struct {
	refs   atomic.Int64
	src    *sockaddr.Addr
	dst    *sockaddr.Addr
	chunks [][]byte
	proto  Protocol
	status atomic.Uint32
}

// Packet is a reference-counted network packet.
type Packet struct {
	b *body
}

// New creates a fresh Packet with one reference.
func New(src, dst *sockaddr.Addr, proto Protocol, chunks [][]byte) (*Packet, error) {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total > maxPayloadLen {
		return nil, fmt.Errorf("packet: payload length %d exceeds %d", total, maxPayloadLen)
	}

	b := &body{src: src, dst: dst, chunks: chunks, proto: proto}
	b.refs.Store(1)
	b.status.Store(uint32(StatusCreated))
	return &Packet{b: b}, nil
}

// Clone returns a new handle sharing this Packet's payload, incrementing
// the reference count.
func (p *Packet) Clone() *Packet {
	p.b.refs.Add(1)
	return &Packet{b: p.b}
}

// Release decrements the reference count. Callers must call Release
// exactly once per handle obtained via New or Clone; when the count
// reaches zero the underlying payload becomes eligible for collection.
func (p *Packet) Release() {
	if p.b.refs.Add(-1) < 0 {
		panic("packet: released more times than referenced")
	}
}

// RefCount returns the current reference count, for tests and invariants.
func (p *Packet) RefCount() int64 { return p.b.refs.Load() }

// Source returns the packet's source address.
func (p *Packet) Source() *sockaddr.Addr { return p.b.src }

// Destination returns the packet's destination address.
func (p *Packet) Destination() *sockaddr.Addr { return p.b.dst }

// Protocol returns the packet's protocol tag.
func (p *Packet) Protocol() Protocol { return p.b.proto }

// Len returns the total payload length across all chunks.
func (p *Packet) Len() int {
	total := 0
	for _, c := range p.b.chunks {
		total += len(c)
	}
	return total
}

// Chunks returns the packet's payload chunks. Callers must not mutate the
// returned slices; clones share this backing memory.
func (p *Packet) Chunks() [][]byte { return p.b.chunks }

// Status returns the current delivery-status bitmask.
func (p *Packet) Status() Status { return Status(p.b.status.Load()) }

// SetStatus ORs flag into the delivery-status bitmask. The bitmask only
// ever grows monotonically across a packet's lifetime (spec.md §3).
func (p *Packet) SetStatus(flag Status) {
	for {
		old := p.b.status.Load()
		if p.b.status.CompareAndSwap(old, old|uint32(flag)) {
			return
		}
	}
}

// SourceIP/DestIP return the 4-byte IPv4 addresses embedded in the
// packet's socket addresses, for use by the wire codec.
func (p *Packet) SourceIP() (netip.Addr, bool) {
	if v, ok := p.b.src.AsInet(); ok {
		return v.Addr, true
	}
	return netip.Addr{}, false
}

func (p *Packet) DestIP() (netip.Addr, bool) {
	if v, ok := p.b.dst.AsInet(); ok {
		return v.Addr, true
	}
	return netip.Addr{}, false
}
