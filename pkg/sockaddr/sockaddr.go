// Package sockaddr implements a byte-addressable, length-preserving
// tagged-union socket address container over AF_INET, AF_INET6 and
// AF_UNIX, matching spec.md §4.4.
package sockaddr

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// maxSize mirrors sizeof(sockaddr_storage).
const maxSize = 128

// familyOffset is the size of sa_family_t at the head of every sockaddr.
const familyOffset = 2

// Addr is a byte-addressable, length-preserving sockaddr container. The
// zero value is an unnamed (len == familyOffset) address of Family
// AF_UNSPEC.
type Addr struct {
	buf    [maxSize]byte
	length int
}

// Family returns the address family stored in the first two bytes.
func (a *Addr) Family() uint16 {
	if a.length < familyOffset {
		return unix.AF_UNSPEC
	}
	return binary.NativeEndian.Uint16(a.buf[:2])
}

// Len returns the declared length in bytes.
func (a *Addr) Len() int { return a.length }

// FromBytes constructs an Addr from a raw buffer of the declared length.
// Every byte up to length must be initialized by the caller; bytes beyond
// length (sockaddr_storage padding) need not be, matching the safety
// contract in spec.md §4.4.
func FromBytes(buf []byte) (*Addr, error) {
	if len(buf) < familyOffset || len(buf) > maxSize {
		return nil, fmt.Errorf("sockaddr: length %d out of range [%d, %d]", len(buf), familyOffset, maxSize)
	}
	a := &Addr{length: len(buf)}
	copy(a.buf[:], buf)
	return a, nil
}

// Inet is a typed view over an AF_INET address.
type Inet struct {
	Addr netip.Addr // always a 4-byte (IPv4) address
	Port uint16
}

// AsInet returns a typed view iff the family is AF_INET and the declared
// length is at least sizeof(sockaddr_in).
func (a *Addr) AsInet() (Inet, bool) {
	const sockaddrInLen = 16
	if a.Family() != unix.AF_INET || a.length < sockaddrInLen {
		return Inet{}, false
	}
	port := binary.BigEndian.Uint16(a.buf[2:4])
	ip := netip.AddrFrom4([4]byte{a.buf[4], a.buf[5], a.buf[6], a.buf[7]})
	return Inet{Addr: ip, Port: port}, true
}

// NewInet constructs an Addr for an AF_INET socket address.
func NewInet(ip netip.Addr, port uint16) *Addr {
	a := &Addr{length: 16}
	binary.NativeEndian.PutUint16(a.buf[:2], unix.AF_INET)
	binary.BigEndian.PutUint16(a.buf[2:4], port)
	ip4 := ip.As4()
	copy(a.buf[4:8], ip4[:])
	return a
}

// Inet6 is a typed view over an AF_INET6 address.
type Inet6 struct {
	Addr   netip.Addr // always a 16-byte (IPv6) address
	Port   uint16
	FlowInfo uint32
	ScopeID  uint32
}

// AsInet6 returns a typed view iff the family is AF_INET6 and the
// declared length is at least sizeof(sockaddr_in6).
func (a *Addr) AsInet6() (Inet6, bool) {
	const sockaddrIn6Len = 28
	if a.Family() != unix.AF_INET6 || a.length < sockaddrIn6Len {
		return Inet6{}, false
	}
	port := binary.BigEndian.Uint16(a.buf[2:4])
	flow := binary.NativeEndian.Uint32(a.buf[4:8])
	var ip [16]byte
	copy(ip[:], a.buf[8:24])
	scope := binary.NativeEndian.Uint32(a.buf[24:28])
	return Inet6{Addr: netip.AddrFrom16(ip), Port: port, FlowInfo: flow, ScopeID: scope}, true
}

// NewInet6 constructs an Addr for an AF_INET6 socket address.
func NewInet6(ip netip.Addr, port uint16, flowInfo, scopeID uint32) *Addr {
	a := &Addr{length: 28}
	binary.NativeEndian.PutUint16(a.buf[:2], unix.AF_INET6)
	binary.BigEndian.PutUint16(a.buf[2:4], port)
	binary.NativeEndian.PutUint32(a.buf[4:8], flowInfo)
	ip16 := ip.As16()
	copy(a.buf[8:24], ip16[:])
	binary.NativeEndian.PutUint32(a.buf[24:28], scopeID)
	return a
}
