// Package sniff recognizes application protocols in transport payloads.
// Recognition never fails the caller: every outcome is a summary value.
package sniff

import (
	"sync/atomic"

	"github.com/irctrakz/tunsnoop/pkg/core"
)

// DefaultMaxInspect is the number of payload bytes inspected per packet.
const DefaultMaxInspect = 4096

// DefaultConfig returns the sniffer defaults: the common HTTP ports over TCP
// and port 53 over UDP.
func DefaultConfig() core.SnifferConfig {
	return core.SnifferConfig{
		HTTPPorts:  []uint16{80, 8080, 8000, 8008, 8888},
		DNSPorts:   []uint16{53},
		MaxInspect: DefaultMaxInspect,
		MaxHeaders: DefaultMaxHeaders,
	}
}

// Sniffer selects a recognizer by transport and port and applies it to a
// bounded prefix of the payload. It is safe for concurrent use.
type Sniffer struct {
	httpPorts  map[uint16]struct{}
	dnsPorts   map[uint16]struct{}
	maxInspect int
	maxHeaders int

	httpComplete   uint64
	httpIncomplete uint64
	httpErrors     uint64
	dnsMessages    uint64
	dnsErrors      uint64
}

// New creates a Sniffer. Zero limits fall back to the defaults; nil port
// lists fall back to the default ports.
func New(cfg core.SnifferConfig) *Sniffer {
	def := DefaultConfig()
	if cfg.HTTPPorts == nil {
		cfg.HTTPPorts = def.HTTPPorts
	}
	if cfg.DNSPorts == nil {
		cfg.DNSPorts = def.DNSPorts
	}
	if cfg.MaxInspect <= 0 {
		cfg.MaxInspect = def.MaxInspect
	}
	if cfg.MaxHeaders <= 0 {
		cfg.MaxHeaders = def.MaxHeaders
	}

	s := &Sniffer{
		httpPorts:  make(map[uint16]struct{}, len(cfg.HTTPPorts)),
		dnsPorts:   make(map[uint16]struct{}, len(cfg.DNSPorts)),
		maxInspect: cfg.MaxInspect,
		maxHeaders: cfg.MaxHeaders,
	}
	for _, p := range cfg.HTTPPorts {
		s.httpPorts[p] = struct{}{}
	}
	for _, p := range cfg.DNSPorts {
		s.dnsPorts[p] = struct{}{}
	}
	return s
}

// Inspect recognizes payload. A zero Status means no recognizer applied.
func (s *Sniffer) Inspect(payload []byte, proto core.Transport, src, dst uint16) core.AppSummary {
	if len(payload) == 0 {
		return core.AppSummary{}
	}
	if len(payload) > s.maxInspect {
		payload = payload[:s.maxInspect]
	}

	switch proto {
	case core.TransportTCP:
		if !match(s.httpPorts, src, dst) {
			break
		}
		app := ParseHTTP(payload, s.maxHeaders)
		switch app.Status {
		case core.StatusComplete:
			atomic.AddUint64(&s.httpComplete, 1)
		case core.StatusIncomplete:
			atomic.AddUint64(&s.httpIncomplete, 1)
		default:
			atomic.AddUint64(&s.httpErrors, 1)
		}
		return app
	case core.TransportUDP:
		if !match(s.dnsPorts, src, dst) {
			break
		}
		app := ParseDNS(payload)
		if app.Status == core.StatusComplete {
			atomic.AddUint64(&s.dnsMessages, 1)
		} else {
			atomic.AddUint64(&s.dnsErrors, 1)
		}
		return app
	}
	return core.AppSummary{}
}

func match(ports map[uint16]struct{}, src, dst uint16) bool {
	if _, ok := ports[src]; ok {
		return true
	}
	_, ok := ports[dst]
	return ok
}

// Metrics returns recognition counters.
func (s *Sniffer) Metrics() map[string]uint64 {
	return map[string]uint64{
		"http_complete":   atomic.LoadUint64(&s.httpComplete),
		"http_incomplete": atomic.LoadUint64(&s.httpIncomplete),
		"http_errors":     atomic.LoadUint64(&s.httpErrors),
		"dns_messages":    atomic.LoadUint64(&s.dnsMessages),
		"dns_errors":      atomic.LoadUint64(&s.dnsErrors),
	}
}
