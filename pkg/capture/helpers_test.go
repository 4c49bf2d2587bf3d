package capture

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/tunsnoop/pkg/core"
)

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(93, 184, 216, 34),
	}
}

func tcpFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1000,
		Ack:     2000,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, tcp, gopacket.Payload(payload))
}

func udpFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, udp, gopacket.Payload(payload))
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

// collector is an Observer that keeps every summary.
type collector struct {
	mu        sync.Mutex
	summaries []*core.PacketSummary
	onObserve func(*core.PacketSummary)
}

func (c *collector) Observe(s *core.PacketSummary) {
	if c.onObserve != nil {
		c.onObserve(s)
	}
	c.mu.Lock()
	c.summaries = append(c.summaries, s)
	c.mu.Unlock()
}

func (c *collector) all() []*core.PacketSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*core.PacketSummary(nil), c.summaries...)
}

func (c *collector) waitFor(t *testing.T, n int) []*core.PacketSummary {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.all()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.all()
}

// trackedPacket wraps frame as a pooled packet whose release is observable.
func trackedPacket(frame []byte) (core.Packet, *bool) {
	released := new(bool)
	return core.NewPooledPacket(frame, func([]byte) { *released = true }), released
}
