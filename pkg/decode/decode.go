// Package decode turns a raw network-layer frame into a read-only header
// view. Decoding never fails: malformed input yields a degraded view.
package decode

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/irctrakz/tunsnoop/pkg/core"
)

const (
	ipv4MinHeaderLen = 20
	ipv6HeaderLen    = 40
	tcpMinHeaderLen  = 20
	udpHeaderLen     = 8

	// TCP data offset lives in the high nibble of this byte.
	tcpDataOffsetByte = 12

	protocolTCP = 6
	protocolUDP = 17
)

// Degradation reasons.
const (
	DegradedEmpty          = "empty frame"
	DegradedUnknownVersion = "unknown ip version"
	DegradedShortNetwork   = "frame shorter than network header"
	DegradedBadNetwork     = "network header fields invalid"
	DegradedShortTransport = "frame shorter than transport header"
	DegradedBadTransport   = "transport header fields invalid"
)

// HeaderView is a structured view over one frame. It references the frame
// and must not outlive it.
type HeaderView struct {
	frame []byte

	Version            uint8
	NetworkHeaderLen   int
	Protocol           uint8
	TransportHeaderLen int
	PayloadOffset      int

	Src netip.Addr
	Dst netip.Addr
	TTL uint8

	Transport core.Transport
	SrcPort   uint16
	DstPort   uint16
	Seq       uint32
	Ack       uint32
	Window    uint16
	Flags     core.TCPFlags
	UDPLength uint16

	// Degraded is empty for a fully decoded frame.
	Degraded string
}

// Frame returns the frame the view was decoded from.
func (v *HeaderView) Frame() []byte { return v.frame }

// Payload returns the bytes after the transport header. It is a sub-slice
// of the frame.
func (v *HeaderView) Payload() []byte {
	if v.PayloadOffset <= 0 || v.PayloadOffset >= len(v.frame) {
		return nil
	}
	return v.frame[v.PayloadOffset:]
}

func (v *HeaderView) degrade(reason string) {
	if v.Degraded == "" {
		v.Degraded = reason
	}
}

// Decode parses the IP and transport headers of frame.
func Decode(frame []byte) HeaderView {
	v := HeaderView{frame: frame}
	if len(frame) == 0 {
		v.degrade(DegradedEmpty)
		return v
	}

	v.Version = frame[0] >> 4
	v.NetworkHeaderLen = NetworkHeaderLen(frame)
	if v.NetworkHeaderLen == 0 {
		v.degrade(DegradedUnknownVersion)
		return v
	}
	if v.Version == 4 && v.NetworkHeaderLen < ipv4MinHeaderLen {
		v.NetworkHeaderLen = 0
		v.degrade(DegradedBadNetwork)
		return v
	}
	if len(frame) < v.NetworkHeaderLen || len(frame) < ipv4MinHeaderLen {
		// Too short to hold the header it announces: nothing is trusted.
		v.NetworkHeaderLen = 0
		v.degrade(DegradedShortNetwork)
		return v
	}

	switch v.Version {
	case 4:
		v.Protocol = frame[9]
		decodeIPv4(&v, frame)
	case 6:
		v.Protocol = frame[6]
		decodeIPv6(&v, frame)
	}

	v.TransportHeaderLen = TransportHeaderLen(frame, v.NetworkHeaderLen, v.Protocol)
	v.PayloadOffset = v.NetworkHeaderLen + v.TransportHeaderLen
	if v.PayloadOffset > len(frame) {
		v.PayloadOffset = len(frame)
	}

	seg := frame[v.NetworkHeaderLen:]
	switch v.Protocol {
	case protocolTCP:
		v.Transport = core.TransportTCP
		decodeTCP(&v, seg)
	case protocolUDP:
		v.Transport = core.TransportUDP
		decodeUDP(&v, seg)
	default:
		v.Transport = core.TransportOther
	}
	return v
}

// NetworkHeaderLen returns the network-layer header length announced by the
// first byte of frame: IHL*4 for IPv4, 40 for IPv6, 0 otherwise.
func NetworkHeaderLen(frame []byte) int {
	if len(frame) == 0 {
		return 0
	}
	switch frame[0] >> 4 {
	case 4:
		return int(frame[0]&0x0f) * 4
	case 6:
		return ipv6HeaderLen
	default:
		return 0
	}
}

// TransportHeaderLen returns the transport header length for protocol
// starting at offset nl of frame. TCP lengths are clamped to at least 20.
func TransportHeaderLen(frame []byte, nl int, protocol uint8) int {
	switch protocol {
	case protocolTCP:
		if len(frame) > nl+tcpDataOffsetByte {
			if n := int(frame[nl+tcpDataOffsetByte]>>4) * 4; n >= tcpMinHeaderLen {
				return n
			}
		}
		return tcpMinHeaderLen
	case protocolUDP:
		return udpHeaderLen
	default:
		return 0
	}
}

func decodeIPv4(v *HeaderView, frame []byte) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		v.degrade(DegradedBadNetwork)
		// Addresses sit at fixed offsets within the 20-byte minimum.
		v.Src, _ = netip.AddrFromSlice(frame[12:16])
		v.Dst, _ = netip.AddrFromSlice(frame[16:20])
		v.TTL = frame[8]
		return
	}
	v.Src, _ = netip.AddrFromSlice(ip.SrcIP)
	v.Dst, _ = netip.AddrFromSlice(ip.DstIP)
	v.TTL = ip.TTL
}

func decodeIPv6(v *HeaderView, frame []byte) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		v.degrade(DegradedBadNetwork)
		v.Src, _ = netip.AddrFromSlice(frame[8:24])
		v.Dst, _ = netip.AddrFromSlice(frame[24:40])
		v.TTL = frame[7]
		return
	}
	v.Src, _ = netip.AddrFromSlice(ip.SrcIP)
	v.Dst, _ = netip.AddrFromSlice(ip.DstIP)
	v.TTL = ip.HopLimit
}

func decodeTCP(v *HeaderView, seg []byte) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(seg, gopacket.NilDecodeFeedback); err != nil {
		v.degrade(shortOrBad(len(seg), tcpMinHeaderLen))
		readPorts(v, seg)
		return
	}
	v.SrcPort = uint16(tcp.SrcPort)
	v.DstPort = uint16(tcp.DstPort)
	v.Seq = tcp.Seq
	v.Ack = tcp.Ack
	v.Window = tcp.Window
	v.Flags = core.TCPFlags{SYN: tcp.SYN, FIN: tcp.FIN, RST: tcp.RST, PSH: tcp.PSH, ACK: tcp.ACK}
}

func decodeUDP(v *HeaderView, seg []byte) {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(seg, gopacket.NilDecodeFeedback); err != nil {
		v.degrade(shortOrBad(len(seg), udpHeaderLen))
		readPorts(v, seg)
		return
	}
	v.SrcPort = uint16(udp.SrcPort)
	v.DstPort = uint16(udp.DstPort)
	v.UDPLength = udp.Length
}

// readPorts recovers ports from a segment the layer decoder rejected.
func readPorts(v *HeaderView, seg []byte) {
	if len(seg) >= 4 {
		v.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		v.DstPort = binary.BigEndian.Uint16(seg[2:4])
	}
}

func shortOrBad(have, need int) string {
	if have < need {
		return DegradedShortTransport
	}
	return DegradedBadTransport
}
