package netgraph

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_IPAssignmentSkipsZeroAndBroadcastOctets(t *testing.T) {
	a := NewIPAssignment()

	first, err := a.AssignNext(0)
	require.NoError(t, err)
	assert.Equal(t, "11.0.0.1", first.String())

	node, ok := a.Lookup(first)
	require.True(t, ok)
	assert.Equal(t, NodeID(0), node)
}

func Test_IPAssignmentExplicitConflict(t *testing.T) {
	a := NewIPAssignment()
	addr := netip.MustParseAddr("11.0.0.5")

	require.NoError(t, a.Assign(addr, 1))
	assert.Error(t, a.Assign(addr, 2))
	assert.NoError(t, a.Assign(addr, 1)) // reassigning the same node is fine.
}
