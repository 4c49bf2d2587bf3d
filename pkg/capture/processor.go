package capture

import (
	"sync/atomic"
	"time"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/decode"
	"github.com/irctrakz/tunsnoop/pkg/logging"
	"github.com/irctrakz/tunsnoop/pkg/sniff"
)

// Capture defaults.
const (
	DefaultTCPCopyCap   = 4096
	DefaultUDPCopyCap   = 2048
	DefaultPreviewBytes = 128
	DefaultRetryBackoff = 200 * time.Millisecond
)

// Recorder persists raw frames. The frame is only valid during the call.
type Recorder interface {
	WritePacket(ts time.Time, frame []byte) error
}

// Processor implements core.PacketProcessor: it turns a borrowed frame into
// an owned PacketSummary and hands it to the observer.
type Processor struct {
	tcpCap  int
	udpCap  int
	preview int

	sniffer  *sniff.Sniffer
	observer core.Observer
	recorder Recorder
	metrics  *Metrics
	now      func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRecorder records every frame before it is released.
func WithRecorder(r Recorder) ProcessorOption {
	return func(p *Processor) { p.recorder = r }
}

// WithMetrics shares a Metrics instance with the processor.
func WithMetrics(m *Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor. A nil sniffer skips recognition; a nil
// observer discards summaries.
func NewProcessor(cfg core.CaptureConfig, sn *sniff.Sniffer, obs core.Observer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		tcpCap:   orDefault(cfg.TCPCopyCap, DefaultTCPCopyCap),
		udpCap:   orDefault(cfg.UDPCopyCap, DefaultUDPCopyCap),
		preview:  orDefault(cfg.PreviewBytes, DefaultPreviewBytes),
		sniffer:  sn,
		observer: obs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = &Metrics{}
	}
	return p
}

// Metrics returns the processor's counters.
func (p *Processor) Metrics() *Metrics { return p.metrics }

// ProcessPacket implements core.PacketProcessor. It always releases packet,
// and does so before sniffing or observing. A frame that was already
// released is rejected with core.ErrPacketReleased.
func (p *Processor) ProcessPacket(packet core.Packet) error {
	if core.IsReleased(packet) {
		atomic.AddUint64(&p.metrics.ReleasedFrames, 1)
		return core.ErrPacketReleased
	}
	frame := packet.Data()
	ts := p.now()

	view := decode.Decode(frame)

	if p.recorder != nil {
		if err := p.recorder.WritePacket(ts, frame); err != nil {
			atomic.AddUint64(&p.metrics.RecordErrors, 1)
			logging.Debugf("pcap record failed: %v", err)
		}
	}

	payload := view.Payload()
	var copied []byte
	switch view.Transport {
	case core.TransportTCP:
		copied = core.CopyPrefix(payload, p.tcpCap)
	case core.TransportUDP:
		copied = core.CopyPrefix(payload, p.udpCap)
	}

	s := &core.PacketSummary{
		Timestamp:  ts,
		Length:     len(frame),
		IPVersion:  view.Version,
		Src:        view.Src,
		Dst:        view.Dst,
		TTL:        view.TTL,
		Protocol:   view.Protocol,
		Transport:  view.Transport,
		SrcPort:    view.SrcPort,
		DstPort:    view.DstPort,
		Seq:        view.Seq,
		Ack:        view.Ack,
		Window:     view.Window,
		Flags:      view.Flags,
		UDPLength:  view.UDPLength,
		PayloadLen: len(payload),
		Degraded:   view.Degraded,
	}

	// The frame and the view over it are gone after this point.
	core.ReleasePacket(packet)

	if len(copied) > p.preview {
		s.Preview = copied[:p.preview:p.preview]
	} else {
		s.Preview = copied
	}

	if p.sniffer != nil && len(copied) > 0 {
		app := p.sniffer.Inspect(copied, s.Transport, s.SrcPort, s.DstPort)
		if app.Status != core.StatusNone {
			s.App = &app
		}
	}

	p.count(s)
	if p.observer != nil {
		p.observer.Observe(s)
	}
	return nil
}

func (p *Processor) count(s *core.PacketSummary) {
	m := p.metrics
	atomic.AddUint64(&m.Frames, 1)
	atomic.AddUint64(&m.Bytes, uint64(s.Length))
	if s.Degraded != "" {
		atomic.AddUint64(&m.Degraded, 1)
	}
	switch s.Transport {
	case core.TransportTCP:
		atomic.AddUint64(&m.TCP, 1)
	case core.TransportUDP:
		atomic.AddUint64(&m.UDP, 1)
	default:
		atomic.AddUint64(&m.Other, 1)
	}
	if s.App == nil {
		return
	}
	switch {
	case s.App.Status == core.StatusIncomplete:
		atomic.AddUint64(&m.HTTPIncomplete, 1)
	case s.App.Status == core.StatusError:
		atomic.AddUint64(&m.SniffErrors, 1)
	case s.App.Kind == core.AppHTTPRequest:
		atomic.AddUint64(&m.HTTPRequests, 1)
	case s.App.Kind == core.AppHTTPResponse:
		atomic.AddUint64(&m.HTTPResponses, 1)
	case s.App.Kind == core.AppDNS:
		atomic.AddUint64(&m.DNS, 1)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
