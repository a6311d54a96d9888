package packet

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/shadow-sim/engine/pkg/sockaddr"
)

// TCPFlags mirrors the TcpHeader flags octet in spec.md §3/§6.
type TCPFlags struct {
	FIN, SYN, RST, PSH, ACK, URG, ECE, CWR bool
}

// SackBlock is one (left, right) discontiguous received range.
type SackBlock struct {
	Left, Right uint32
}

// TCPHeader is the byte-exact subset of a TCP segment the state machine
// needs, per spec.md §3/§6.
type TCPHeader struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Window           uint16
	Flags            TCPFlags
	Sack             []SackBlock // at most 4 entries.
	WindowScale      *uint8
	Timestamps       *[2]uint32
}

// EncodeTCP serializes an IPv4+TCP segment carrying payload onto the
// wire, using gopacket's layer serialization so the byte layout matches
// a real TCP/IP stack's framing exactly.
func EncodeTCP(srcIP, dstIP [4]byte, hdr TCPHeader, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP[:],
		DstIP:    dstIP[:],
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(hdr.SrcPort),
		DstPort: layers.TCPPort(hdr.DstPort),
		Seq:     hdr.Seq,
		Ack:     hdr.Ack,
		Window:  hdr.Window,
		FIN:     hdr.Flags.FIN,
		SYN:     hdr.Flags.SYN,
		RST:     hdr.Flags.RST,
		PSH:     hdr.Flags.PSH,
		ACK:     hdr.Flags.ACK,
		URG:     hdr.Flags.URG,
		ECE:     hdr.Flags.ECE,
		CWR:     hdr.Flags.CWR,
	}
	appendTCPOptions(tcp, hdr)

	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("packet: failed to set network layer for checksum: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("packet: failed to serialize TCP segment: %w", err)
	}
	return buf.Bytes(), nil
}

func appendTCPOptions(tcp *layers.TCP, hdr TCPHeader) {
	if hdr.WindowScale != nil {
		tcp.Options = append(tcp.Options, layers.TCPOption{
			OptionType:   layers.TCPOptionKindWindowScale,
			OptionLength: 3,
			OptionData:   []byte{*hdr.WindowScale},
		})
	}
	if hdr.Timestamps != nil {
		data := make([]byte, 8)
		put32(data[0:4], hdr.Timestamps[0])
		put32(data[4:8], hdr.Timestamps[1])
		tcp.Options = append(tcp.Options, layers.TCPOption{
			OptionType:   layers.TCPOptionKindTimestamps,
			OptionLength: 10,
			OptionData:   data,
		})
	}
	if len(hdr.Sack) > 0 {
		n := len(hdr.Sack)
		if n > 4 {
			n = 4
		}
		data := make([]byte, 0, 8*n)
		for _, blk := range hdr.Sack[:n] {
			var b [8]byte
			put32(b[0:4], blk.Left)
			put32(b[4:8], blk.Right)
			data = append(data, b[:]...)
		}
		tcp.Options = append(tcp.Options, layers.TCPOption{
			OptionType:   layers.TCPOptionKindSACK,
			OptionLength: uint8(2 + len(data)),
			OptionData:   data,
		})
	}
}

func put32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// DecodeTCP parses an IPv4+TCP wire segment back into a TCPHeader, source
// and destination socket addresses, and payload.
func DecodeTCP(raw []byte) (TCPHeader, *sockaddr.Addr, *sockaddr.Addr, []byte, error) {
	gp := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.Default)

	ipLayer := gp.Layer(layers.LayerTypeIPv4)
	tcpLayer := gp.Layer(layers.LayerTypeTCP)
	if ipLayer == nil || tcpLayer == nil {
		return TCPHeader{}, nil, nil, nil, fmt.Errorf("packet: not a well-formed IPv4+TCP segment")
	}

	ip := ipLayer.(*layers.IPv4)
	tcp := tcpLayer.(*layers.TCP)

	hdr := TCPHeader{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		Window:  tcp.Window,
		Flags: TCPFlags{
			FIN: tcp.FIN, SYN: tcp.SYN, RST: tcp.RST, PSH: tcp.PSH,
			ACK: tcp.ACK, URG: tcp.URG, ECE: tcp.ECE, CWR: tcp.CWR,
		},
	}
	decodeTCPOptions(tcp, &hdr)

	var srcIP, dstIP [4]byte
	copy(srcIP[:], ip.SrcIP.To4())
	copy(dstIP[:], ip.DstIP.To4())

	src := sockaddr.NewInet(netip.AddrFrom4(srcIP), hdr.SrcPort)
	dst := sockaddr.NewInet(netip.AddrFrom4(dstIP), hdr.DstPort)

	payload := tcp.LayerPayload()
	return hdr, src, dst, payload, nil
}

func decodeTCPOptions(tcp *layers.TCP, hdr *TCPHeader) {
	for _, opt := range tcp.Options {
		switch opt.OptionType {
		case layers.TCPOptionKindWindowScale:
			if len(opt.OptionData) >= 1 {
				v := opt.OptionData[0]
				hdr.WindowScale = &v
			}
		case layers.TCPOptionKindTimestamps:
			if len(opt.OptionData) >= 8 {
				var ts [2]uint32
				ts[0] = get32(opt.OptionData[0:4])
				ts[1] = get32(opt.OptionData[4:8])
				hdr.Timestamps = &ts
			}
		case layers.TCPOptionKindSACK:
			for off := 0; off+8 <= len(opt.OptionData); off += 8 {
				hdr.Sack = append(hdr.Sack, SackBlock{
					Left:  get32(opt.OptionData[off : off+4]),
					Right: get32(opt.OptionData[off+4 : off+8]),
				})
				if len(hdr.Sack) == 4 {
					break
				}
			}
		}
	}
}

func get32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
