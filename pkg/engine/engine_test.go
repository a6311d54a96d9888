package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-sim/engine/internal/config"
	"github.com/shadow-sim/engine/pkg/tcp"
)

const testGraphYAML = `
directed: false
nodes:
  - id: 0
  - id: 1
edges:
  - {source: 0, target: 1, latency: "2ms", packet_loss: 0}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	dir := t.TempDir()
	graphPath := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graphPath, []byte(testGraphYAML), 0o644))

	cfg := config.DefaultConfig()
	cfg.GraphPath = graphPath
	cfg.Simulation.StopTime = "5s"
	cfg.Worker.Parallelism = 2

	e, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return e
}

// Test_ListenConnectAcceptReachesEstablished drives a full three-way
// handshake through the engine's own wiring: ListenTCP/ConnectTCP queue
// real event.Queue entries, Engine.Run drains them round by round via
// the dispatcher's delivery hook, and both sides should reach
// Established without any test code touching PushPacket/PopPacket
// directly (spec.md §8's E2E scenarios).
func Test_ListenConnectAcceptReachesEstablished(t *testing.T) {
	e := newTestEngine(t)

	const port = 9000
	_, err := e.ListenTCP(1, port)
	require.NoError(t, err)

	conn, err := e.ConnectTCP(0, 1, port)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, tcp.Established, conn.Kind())

	accepted, err := e.AcceptTCP(1, port)
	require.NoError(t, err)
	assert.Equal(t, tcp.Established, accepted.Kind())

	remote, ok := accepted.RemoteAddr()
	require.True(t, ok)
	remoteInet, ok := remote.AsInet()
	require.True(t, ok)
	h0 := e.hosts[0]
	assert.Equal(t, h0.IP, remoteInet.Addr)
}

// Test_DataExchangeAfterHandshake sends a small payload from the
// connecting side and checks it arrives intact on the accepted side,
// exercising Send/PopPacket/EncodeTCP/DecodeTCP/PushPacket/Recv end to
// end through the dispatcher.
func Test_DataExchangeAfterHandshake(t *testing.T) {
	e := newTestEngine(t)

	const port = 9001
	_, err := e.ListenTCP(1, port)
	require.NoError(t, err)
	conn, err := e.ConnectTCP(0, 1, port)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	require.Equal(t, tcp.Established, conn.Kind())

	accepted, err := e.AcceptTCP(1, port)
	require.NoError(t, err)
	require.Equal(t, tcp.Established, accepted.Kind())

	payload := []byte("hello from host 0")
	n, err := conn.Send(bytes.NewReader(payload), len(payload))
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	e.drain(e.hosts[0])

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	require.NoError(t, e.Run(ctx2))

	var buf bytes.Buffer
	_, err = accepted.Recv(&buf, len(payload))
	require.NoError(t, err)
	assert.Equal(t, string(payload), buf.String())
}
