package core

import (
	"net/netip"
	"time"
)

// Transport identifies the transport protocol of a decoded frame.
type Transport uint8

const (
	TransportOther Transport = iota
	TransportTCP
	TransportUDP
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	default:
		return "other"
	}
}

// Observer receives per-packet summaries. Implementations decide how to
// present them; the capture loop does not prescribe formatting.
type Observer interface {
	Observe(summary *PacketSummary)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(summary *PacketSummary)

// Observe calls f(summary).
func (f ObserverFunc) Observe(summary *PacketSummary) { f(summary) }

// TCPFlags is the subset of TCP control bits surfaced to observers.
type TCPFlags struct {
	SYN, FIN, RST, PSH, ACK bool
}

// PacketSummary is the decoded view of one frame handed to observers. It
// holds owned copies only and may be retained after the frame is released.
type PacketSummary struct {
	Timestamp time.Time
	Length    int

	// Network layer
	IPVersion uint8
	Src       netip.Addr
	Dst       netip.Addr
	TTL       uint8 // hop limit for IPv6
	Protocol  uint8

	// Transport layer
	Transport Transport
	SrcPort   uint16
	DstPort   uint16
	Seq       uint32
	Ack       uint32
	Window    uint16
	Flags     TCPFlags
	UDPLength uint16

	// PayloadLen is the payload length in the original frame.
	PayloadLen int
	// Preview holds the first bytes of the payload.
	Preview []byte

	// Degraded is non-empty when the frame could only be partially decoded.
	Degraded string

	// App is set when the sniffer inspected the payload.
	App *AppSummary
}

// AppStatus is the outcome of application-layer recognition.
type AppStatus uint8

const (
	StatusNone AppStatus = iota
	StatusComplete
	StatusIncomplete
	StatusError
)

func (s AppStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusIncomplete:
		return "incomplete"
	case StatusError:
		return "error"
	default:
		return "none"
	}
}

// AppKind names the application protocol of a summary.
type AppKind string

const (
	AppHTTPRequest  AppKind = "http-request"
	AppHTTPResponse AppKind = "http-response"
	AppHTTP         AppKind = "http"
	AppDNS          AppKind = "dns"
)

// Header is one header field in wire order.
type Header struct {
	Name  string
	Value string
}

// AppSummary describes what the sniffer recognized in a payload.
type AppSummary struct {
	Kind   AppKind
	Status AppStatus
	Err    error

	// HTTP request line
	Method string
	Path   string

	// HTTP status line
	Code   int
	Reason string

	Version string
	Headers []Header

	DNS *DNSSummary
}

// DNSSummary is the decoded header and question section of a DNS message.
type DNSSummary struct {
	ID        uint16
	Response  bool
	OpCode    int
	RCode     string
	Questions []string
	Answers   int
}
