package socketsyscall

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/engine/pkg/descriptor"
	"github.com/shadow-sim/engine/pkg/memmgr"
	"github.com/shadow-sim/engine/pkg/simtime"
	"github.com/shadow-sim/engine/pkg/tcp"
)

type fakeDeps struct{ now simtime.SimulationTime }

func (d *fakeDeps) Now() simtime.SimulationTime { return d.now }
func (d *fakeDeps) RegisterTimer(simtime.SimulationTime, tcp.TimerFunc) {}
func (d *fakeDeps) Fork() tcp.Dependencies                              { return d }

func Test_PortAllocatorAssignsEphemeralThenRejectsExplicitConflict(t *testing.T) {
	alloc := NewPortAllocator()
	ip := netip.MustParseAddr("11.0.0.1")

	a, err := alloc.Associate(ip, nil)
	require.NoError(t, err)
	av, _ := a.AsInet()
	assert.GreaterOrEqual(t, int(av.Port), ephemeralLow)

	_, err = alloc.Associate(ip, a)
	assert.Error(t, err, "rebinding the same explicit port must fail")
}

func Test_SocketListenAssignsLocalAddress(t *testing.T) {
	table := descriptor.NewTable()
	alloc := NewPortAllocator()
	ip := netip.MustParseAddr("11.0.0.2")

	fd, h, err := Socket(table, DomainInet, TypeStream, &fakeDeps{})
	require.NoError(t, err)
	require.NotZero(t, fd+1)

	require.NoError(t, Listen(h, 4, alloc, ip))

	local, ok := GetSockName(h)
	require.True(t, ok)
	lv, _ := local.AsInet()
	assert.Equal(t, "11.0.0.2", lv.Addr.String())
}

func Test_ErrnoTranslatesTCPOpError(t *testing.T) {
	err := &tcp.OpError{Op: "accept", Kind: tcp.ErrNothingToAccept}
	assert.Equal(t, unix.EAGAIN, Errno(err))
}

func Test_SetSockOptDoublesAndClampsSendBuf(t *testing.T) {
	table := descriptor.NewTable()
	_, h, err := Socket(table, DomainInet, TypeDgram, &fakeDeps{})
	require.NoError(t, err)

	require.NoError(t, SetSockOpt(h, unix.SOL_SOCKET, unix.SO_SNDBUF, encodeUint32(1000)))
	// 1000 doubled is 2000, which is below sockMin, so sockMin is stored.
	v, err := GetSockOpt(h, unix.SOL_SOCKET, unix.SO_SNDBUF)
	require.NoError(t, err)
	assert.Equal(t, sockMin, v)
}

func Test_SetSockOptRejectsUnknownCongestionControl(t *testing.T) {
	table := descriptor.NewTable()
	_, h, err := Socket(table, DomainInet, TypeStream, &fakeDeps{})
	require.NoError(t, err)

	err = SetSockOpt(h, unix.IPPROTO_TCP, unix.TCP_CONGESTION, []byte("made-up-algo"))
	assert.Error(t, err)
}

func encodeUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// pumpAll pops every pending outbound segment of src and delivers each to
// dst in order, standing in for the packet-dispatch round that would carry
// them between hosts in a full simulation.
func pumpAll(t *testing.T, src, dst *Handle) {
	t.Helper()
	for src.tcpState.WantsToSend() {
		hdr, payload, err := src.tcpState.PopPacket()
		require.NoError(t, err)
		_, err = dst.tcpState.PushPacket(hdr, payload)
		require.NoError(t, err)
	}
}

// Test_SocketPairConnectsBothEndsAndExchangesData covers E2E scenario #6:
// two TCP sockets connected via socketpair(2), each writes "hello", each
// reads 5 bytes.
func Test_SocketPairConnectsBothEndsAndExchangesData(t *testing.T) {
	table := descriptor.NewTable()

	fdA, fdB, err := SocketPair(table, &fakeDeps{}, &fakeDeps{})
	require.NoError(t, err)

	fa, err := table.Get(fdA)
	require.NoError(t, err)
	fb, err := table.Get(fdB)
	require.NoError(t, err)
	ha, hb := fa.(*Handle), fb.(*Handle)

	n, err := SendTo(ha, nil, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	pumpAll(t, ha, hb)

	n, err = SendTo(hb, nil, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	pumpAll(t, hb, ha)

	buf := make([]byte, 5)
	n, _, err = RecvFrom(hb, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	buf = make([]byte, 5)
	n, _, err = RecvFrom(ha, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

// Test_SendRecvGuestMemoryRoundTrip covers the guest-buffer path through
// memmgr's Reader/Writer cursors: the payload never touches a plain Go
// []byte owned by the syscall layer, only the mapped region a
// memmgr.Manager addresses.
func Test_SendRecvGuestMemoryRoundTrip(t *testing.T) {
	table := descriptor.NewTable()
	fdA, fdB, err := SocketPair(table, &fakeDeps{}, &fakeDeps{})
	require.NoError(t, err)

	fa, err := table.Get(fdA)
	require.NoError(t, err)
	fb, err := table.Get(fdB)
	require.NoError(t, err)
	ha, hb := fa.(*Handle), fb.(*Handle)

	const base = uintptr(0x1000)
	guest := make([]byte, 4096)
	mgr := memmgr.NewMapped(0, base, guest)

	copy(guest[0:5], "howdy")
	n, err := SendToGuest(ha, mgr, nil, base, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	pumpAll(t, ha, hb)

	n, _, err = RecvFromGuest(hb, mgr, base+1024, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "howdy", string(guest[1024:1029]))
}
