package engine

import (
	"fmt"

	"github.com/shadow-sim/engine/pkg/event"
	"github.com/shadow-sim/engine/pkg/packet"
	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
	"github.com/shadow-sim/engine/pkg/sockaddr"
	"github.com/shadow-sim/engine/pkg/tcp"
)

// netStack tracks the TCP connection objects live on one host so the
// engine can drain their pending segments and demultiplex arriving
// packets into them, per spec.md §8's E2E scenarios.
//
// Demuxing is keyed by local TCP port only. TCPHeader (spec.md §3/§6)
// carries ports, not IPs, so a listener's freshly-forked child has no
// remote address to key on until tcp.TcpState.SetRemoteAddr patches it in
// from the decoded wire packet's source address; until then a given
// listening port serves at most one in-flight pre-accept peer at a time.
// This is a deliberate, documented simplification (DESIGN.md), not an
// oversight.
type netStack struct {
	listeners map[uint16]*tcp.TcpState
	conns     map[uint16]*tcp.TcpState // outbound, keyed by local (ephemeral) port
	accepted  map[uint16]*tcp.TcpState // post-accept inbound, keyed by listener port
}

func newNetStack() *netStack {
	return &netStack{
		listeners: make(map[uint16]*tcp.TcpState),
		conns:     make(map[uint16]*tcp.TcpState),
		accepted:  make(map[uint16]*tcp.TcpState),
	}
}

// hostDeps implements tcp.Dependencies by registering timers as real
// event.Queue pushes against the owning host's queue, so a TcpState's
// retransmit/TIME_WAIT timers actually fire through the same round-based
// event loop every other simulated activity runs on (spec.md §4.6/§4.9) —
// rather than only existing for fakeDeps test stand-ins.
type hostDeps struct {
	h  *Host
	by tcp.TimerRegisteredBy
}

func newHostDeps(h *Host) *hostDeps { return &hostDeps{h: h, by: tcp.RegisteredByParent} }

func (d *hostDeps) Now() simtime.SimulationTime { return d.h.Clock.CurrentTime }

func (d *hostDeps) RegisterTimer(deadline simtime.SimulationTime, cb tcp.TimerFunc) {
	by := d.by
	d.h.Queue.Push(event.Event{
		Time:   deadline,
		HostID: d.h.ID,
		Run:    func() { cb(by) },
	})
}

// Fork returns a Dependencies for a pre-accept child; its timers dispatch
// with RegisteredByChild until AcceptedTcpState.Finalize rewires them,
// matching the distinction tcp.TimerFunc's callers rely on.
func (d *hostDeps) Fork() tcp.Dependencies {
	return &hostDeps{h: d.h, by: tcp.RegisteredByChild}
}

// netStackFor returns (creating if necessary) the per-host connection
// registry.
func (e *Engine) netStackFor(h *Host) *netStack {
	ns, ok := e.netStacks[h.ID]
	if !ok {
		ns = newNetStack()
		e.netStacks[h.ID] = ns
	}
	return ns
}

// ListenTCP opens a listening socket on hostID at port and registers it
// so arriving SYNs are demultiplexed to it automatically once Run starts
// draining the dispatcher's deliveries.
func (e *Engine) ListenTCP(hostID shmem.HostID, port uint16) (*tcp.TcpState, error) {
	h, ok := e.hosts[hostID]
	if !ok {
		return nil, fmt.Errorf("engine: unknown host %d", hostID)
	}

	st := tcp.New(newHostDeps(h))
	want := sockaddr.NewInet(h.IP, port)
	if err := st.Listen(16, func(*sockaddr.Addr) (*sockaddr.Addr, error) {
		return h.Ports.Associate(h.IP, want)
	}); err != nil {
		return nil, fmt.Errorf("engine: listen on host %d port %d: %w", hostID, port, err)
	}

	e.netStackFor(h).listeners[port] = st
	return st, nil
}

// ConnectTCP opens an outbound connection from srcHost to dstHost:dstPort,
// queuing the initial SYN and flushing it through the dispatcher
// immediately so the handshake can proceed on subsequent rounds.
func (e *Engine) ConnectTCP(srcHost, dstHost shmem.HostID, dstPort uint16) (*tcp.TcpState, error) {
	src, ok := e.hosts[srcHost]
	if !ok {
		return nil, fmt.Errorf("engine: unknown host %d", srcHost)
	}
	dst, ok := e.hosts[dstHost]
	if !ok {
		return nil, fmt.Errorf("engine: unknown host %d", dstHost)
	}

	st := tcp.New(newHostDeps(src))
	remote := sockaddr.NewInet(dst.IP, dstPort)
	if err := st.Connect(remote, func(want *sockaddr.Addr) (*sockaddr.Addr, error) {
		return src.Ports.Associate(src.IP, want)
	}); err != nil {
		return nil, fmt.Errorf("engine: connect host %d -> %d:%d: %w", srcHost, dstHost, dstPort, err)
	}

	local, _ := st.LocalAddr()
	localInet, _ := local.AsInet()
	e.netStackFor(src).conns[localInet.Port] = st

	e.drain(src)
	return st, nil
}

// AcceptTCP pops the oldest connection ready on a listening port and
// registers it for further demuxing/draining under its own identity
// (spec.md §4.6 accept).
func (e *Engine) AcceptTCP(hostID shmem.HostID, port uint16) (*tcp.TcpState, error) {
	h, ok := e.hosts[hostID]
	if !ok {
		return nil, fmt.Errorf("engine: unknown host %d", hostID)
	}
	ns := e.netStackFor(h)
	listener, ok := ns.listeners[port]
	if !ok {
		return nil, fmt.Errorf("engine: host %d has no listener on port %d", hostID, port)
	}

	accepted, err := listener.Accept()
	if err != nil {
		return nil, err
	}
	accepted.Finalize(newHostDeps(h))
	ns.accepted[port] = accepted.State()
	return accepted.State(), nil
}

// handleDeliver returns the per-host delivery handler registered against
// the dispatcher: every packet the dispatch algorithm lands on h gets
// decoded and demultiplexed here, and draining h's stack immediately
// after flushes any response segments (SYN-ACK, ACK, data) the push
// produced.
func (e *Engine) handleDeliver(h *Host) func(*packet.Packet) {
	return func(p *packet.Packet) {
		for _, chunk := range p.Chunks() {
			e.demuxSegment(h, chunk)
		}
		e.drain(h)
	}
}

func (e *Engine) demuxSegment(h *Host, raw []byte) {
	hdr, src, _, payload, err := packet.DecodeTCP(raw)
	if err != nil {
		e.log.Debugw("engine: dropping malformed segment", "host", h.ID, "err", err)
		return
	}

	ns := e.netStackFor(h)

	if st, ok := ns.conns[hdr.DstPort]; ok {
		if _, err := st.PushPacket(hdr, payload); err != nil {
			e.log.Debugw("engine: push_packet on established conn", "host", h.ID, "port", hdr.DstPort, "err", err)
		}
		return
	}
	if st, ok := ns.accepted[hdr.DstPort]; ok {
		if _, err := st.PushPacket(hdr, payload); err != nil {
			e.log.Debugw("engine: push_packet on accepted conn", "host", h.ID, "port", hdr.DstPort, "err", err)
		}
		return
	}

	listener, ok := ns.listeners[hdr.DstPort]
	if !ok {
		return // no socket bound to this port; a real kernel would RST.
	}

	if child, ok := listener.PendingChild(); ok {
		if _, err := child.PushPacket(hdr, payload); err != nil {
			e.log.Debugw("engine: push_packet on pending child", "host", h.ID, "port", hdr.DstPort, "err", err)
		}
		child.SetRemoteAddr(src)
		return
	}

	if _, err := listener.PushPacket(hdr, payload); err != nil {
		e.log.Debugw("engine: push_packet on listener", "host", h.ID, "port", hdr.DstPort, "err", err)
		return
	}
	if child, ok := listener.PendingChild(); ok {
		child.SetRemoteAddr(src)
	}
}

// drain flushes every outbound segment queued across h's listeners (and
// their pending children), outbound connections, and accepted inbound
// connections through the dispatcher.
func (e *Engine) drain(h *Host) {
	ns := e.netStackFor(h)

	states := make([]*tcp.TcpState, 0, len(ns.listeners)*2+len(ns.conns)+len(ns.accepted))
	for _, st := range ns.listeners {
		states = append(states, st)
		if c, ok := st.PendingChild(); ok {
			states = append(states, c)
		}
	}
	states = append(states, valuesOf(ns.conns)...)
	states = append(states, valuesOf(ns.accepted)...)

	for _, st := range states {
		for st.WantsToSend() {
			hdr, payload, err := st.PopPacket()
			if err != nil {
				break
			}
			e.sendSegment(h, st, hdr, payload)
		}
	}
}

func valuesOf(m map[uint16]*tcp.TcpState) []*tcp.TcpState {
	out := make([]*tcp.TcpState, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// sendSegment wire-encodes one TCP segment and hands it to the dispatcher
// addressed to st's current remote peer.
func (e *Engine) sendSegment(h *Host, st *tcp.TcpState, hdr packet.TCPHeader, payload []byte) {
	remote, ok := st.RemoteAddr()
	if !ok {
		return // nowhere to send yet (e.g. a listener with no peer).
	}
	remoteInet, ok := remote.AsInet()
	if !ok {
		return
	}
	dstNode, ok := e.ips.Lookup(remoteInet.Addr)
	if !ok {
		e.log.Debugw("engine: no route to peer", "host", h.ID, "peer", remoteInet.Addr)
		return
	}

	wire, err := packet.EncodeTCP(h.IP.As4(), remoteInet.Addr.As4(), hdr, payload)
	if err != nil {
		e.log.Debugw("engine: encode segment", "host", h.ID, "err", err)
		return
	}

	srcAddr := sockaddr.NewInet(h.IP, hdr.SrcPort)
	dstAddr := sockaddr.NewInet(remoteInet.Addr, remoteInet.Port)
	pkt, err := packet.New(srcAddr, dstAddr, packet.ProtoTCP, [][]byte{wire})
	if err != nil {
		e.log.Debugw("engine: build packet", "host", h.ID, "err", err)
		return
	}

	e.dispatcher.Send(h.ID, shmem.HostID(dstNode), h.Clock, pkt)
}
