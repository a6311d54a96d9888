package netgraph

import (
	"fmt"
	"net/netip"
)

// baseIP is the first address IP assignment scans from, per spec.md §4.5.
var baseIP = netip.MustParseAddr("11.0.0.0")

// IPAssignment maps IPv4 addresses to graph nodes.
type IPAssignment struct {
	byAddr map[netip.Addr]NodeID
	next   netip.Addr
}

// NewIPAssignment creates an empty assignment, starting its linear scan
// from baseIP.
func NewIPAssignment() *IPAssignment {
	return &IPAssignment{
		byAddr: make(map[netip.Addr]NodeID),
		next:   baseIP,
	}
}

// Lookup returns the node assigned to addr, if any.
func (a *IPAssignment) Lookup(addr netip.Addr) (NodeID, bool) {
	n, ok := a.byAddr[addr]
	return n, ok
}

// AssignNext assigns the next free address (skipping .0 and .255 octets)
// to node.
func (a *IPAssignment) AssignNext(node NodeID) (netip.Addr, error) {
	for {
		candidate := a.next
		a.next = nextCandidate(a.next)

		if skippable(candidate) {
			continue
		}
		if _, taken := a.byAddr[candidate]; taken {
			continue
		}

		a.byAddr[candidate] = node
		return candidate, nil
	}
}

// Assign explicitly binds addr to node, failing if addr is already bound
// to a different node.
func (a *IPAssignment) Assign(addr netip.Addr, node NodeID) error {
	if existing, ok := a.byAddr[addr]; ok && existing != node {
		return fmt.Errorf("netgraph: address %s already bound to node %d", addr, existing)
	}
	a.byAddr[addr] = node
	return nil
}

func skippable(addr netip.Addr) bool {
	b := addr.As4()
	return b[3] == 0 || b[3] == 255
}

func nextCandidate(addr netip.Addr) netip.Addr {
	b := addr.As4()
	for i := 3; i >= 0; i-- {
		if b[i] < 255 {
			b[i]++
			return netip.AddrFrom4(b)
		}
		b[i] = 0
	}
	panic("netgraph: IPv4 address space exhausted")
}
