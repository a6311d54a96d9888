package netgraph

import (
	"testing"

	"github.com/shadow-sim/engine/pkg/simtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	yamlDoc := []byte(`
directed: true
nodes:
  - id: 0
  - id: 1
  - id: 2
edges:
  - {source: 0, target: 1, latency: "3ns"}
  - {source: 1, target: 0, latency: "5ns"}
  - {source: 0, target: 2, latency: "7ns"}
  - {source: 2, target: 1, latency: "11ns"}
`)
	g, err := Parse(yamlDoc)
	require.NoError(t, err)
	return g
}

func Test_ScenarioAllPairsShortestPaths(t *testing.T) {
	g := testGraph(t)

	r, err := PrecomputeShortestPaths(g, []NodeID{0, 1, 2})
	require.NoError(t, err)

	expect := map[[2]NodeID]simtime.SimulationTime{
		{0, 0}: 8, {0, 1}: 3, {0, 2}: 7,
		{1, 0}: 5, {1, 1}: 8, {1, 2}: 12,
		{2, 0}: 16, {2, 1}: 11, {2, 2}: 23,
	}

	for pair, want := range expect {
		got, ok := r.Latency(pair[0], pair[1])
		require.True(t, ok, "missing pair %v", pair)
		assert.Equal(t, want, got, "pair %v", pair)
	}
}

func Test_PathCompositionTriangleInequality(t *testing.T) {
	g := testGraph(t)
	r, err := PrecomputeShortestPaths(g, []NodeID{0, 1, 2})
	require.NoError(t, err)

	nodes := []NodeID{0, 1, 2}
	for _, a := range nodes {
		for _, b := range nodes {
			for _, c := range nodes {
				ac, ok1 := r.Latency(a, c)
				ab, ok2 := r.Latency(a, b)
				bc, ok3 := r.Latency(b, c)
				if ok1 && ok2 && ok3 {
					assert.LessOrEqual(t, uint64(ac), uint64(ab+bc))
				}
			}
		}
	}
}

func Test_ComposeLossFormula(t *testing.T) {
	p := Compose(Path{Latency: 1, PacketLoss: 0.5}, Path{Latency: 2, PacketLoss: 0.5})
	assert.Equal(t, simtime.SimulationTime(3), p.Latency)
	assert.InDelta(t, 0.75, p.PacketLoss, 1e-9)
}

func Test_DirectEdgesOnlyErrorsOnMissingPair(t *testing.T) {
	g := testGraph(t)
	_, err := DirectEdgesOnly(g, []NodeID{1, 2})
	assert.Error(t, err) // no direct edge 1 -> 2.
}

func Test_GraphValidationCollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
directed: false
nodes:
  - id: 0
edges:
  - {source: 0, target: 99, latency: "1ms", packet_loss: 2.0}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target node 99")
	assert.Contains(t, err.Error(), "packet_loss")
}
