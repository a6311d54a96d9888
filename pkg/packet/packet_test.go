package packet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/engine/pkg/sockaddr"
)

func Test_CloneSharesRefCount(t *testing.T) {
	src := sockaddr.NewInet(netip.MustParseAddr("1.2.3.4"), 1000)
	dst := sockaddr.NewInet(netip.MustParseAddr("5.6.7.8"), 2000)

	p, err := New(src, dst, ProtoTCP, [][]byte{[]byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.RefCount())

	clone := p.Clone()
	assert.Equal(t, int64(2), p.RefCount())

	clone.Release()
	assert.Equal(t, int64(1), p.RefCount())

	p.Release()
	assert.Equal(t, int64(0), p.RefCount())
}

func Test_ReleaseUnderflowPanics(t *testing.T) {
	src := sockaddr.NewInet(netip.MustParseAddr("1.2.3.4"), 1000)
	dst := sockaddr.NewInet(netip.MustParseAddr("5.6.7.8"), 2000)
	p, err := New(src, dst, ProtoUDP, nil)
	require.NoError(t, err)

	p.Release()
	assert.Panics(t, func() { p.Release() })
}

func Test_StatusIsMonotonicOr(t *testing.T) {
	src := sockaddr.NewInet(netip.MustParseAddr("1.2.3.4"), 1000)
	dst := sockaddr.NewInet(netip.MustParseAddr("5.6.7.8"), 2000)
	p, err := New(src, dst, ProtoTCP, nil)
	require.NoError(t, err)

	p.SetStatus(StatusBuffered)
	assert.True(t, p.Status().Has(StatusCreated))
	assert.True(t, p.Status().Has(StatusBuffered))

	p.SetStatus(StatusDropped)
	assert.True(t, p.Status().Has(StatusBuffered))
	assert.True(t, p.Status().Has(StatusDropped))
}

func Test_TCPWireRoundTrip(t *testing.T) {
	scale := uint8(7)
	hdr := TCPHeader{
		SrcPort: 1234,
		DstPort: 9000,
		Seq:     100,
		Ack:     200,
		Window:  65535,
		Flags:   TCPFlags{SYN: true, ACK: true},
		Sack:    []SackBlock{{Left: 10, Right: 20}},
		WindowScale: &scale,
	}

	raw, err := EncodeTCP([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, hdr, []byte("payload"))
	require.NoError(t, err)

	decoded, src, dst, payload, err := DecodeTCP(raw)
	require.NoError(t, err)

	assert.Equal(t, hdr.SrcPort, decoded.SrcPort)
	assert.Equal(t, hdr.DstPort, decoded.DstPort)
	assert.Equal(t, hdr.Seq, decoded.Seq)
	assert.Equal(t, hdr.Ack, decoded.Ack)
	assert.True(t, decoded.Flags.SYN && decoded.Flags.ACK)
	require.Len(t, decoded.Sack, 1)
	assert.Equal(t, uint32(10), decoded.Sack[0].Left)
	assert.Equal(t, []byte("payload"), payload)

	srcView, ok := src.AsInet()
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4", srcView.Addr.String())

	dstView, ok := dst.AsInet()
	require.True(t, ok)
	assert.Equal(t, "5.6.7.8", dstView.Addr.String())
}
