package capture

import "sync/atomic"

// Metrics contains counters for the capture path. Fields are updated with
// sync/atomic; read them through Snapshot.
type Metrics struct {
	Frames        uint64 `json:"frames"`
	Bytes         uint64 `json:"bytes"`
	ReceiveErrors uint64 `json:"receive_errors"`
	Degraded      uint64 `json:"degraded"`

	TCP   uint64 `json:"tcp"`
	UDP   uint64 `json:"udp"`
	Other uint64 `json:"other"`

	HTTPRequests   uint64 `json:"http_requests"`
	HTTPResponses  uint64 `json:"http_responses"`
	HTTPIncomplete uint64 `json:"http_incomplete"`
	SniffErrors    uint64 `json:"sniff_errors"`
	DNS            uint64 `json:"dns"`

	RecordErrors   uint64 `json:"record_errors"`
	ObserverDrops  uint64 `json:"observer_drops"`
	ReleasedFrames uint64 `json:"released_frames"`
}

// Snapshot returns a consistent-enough copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		Frames:         atomic.LoadUint64(&m.Frames),
		Bytes:          atomic.LoadUint64(&m.Bytes),
		ReceiveErrors:  atomic.LoadUint64(&m.ReceiveErrors),
		Degraded:       atomic.LoadUint64(&m.Degraded),
		TCP:            atomic.LoadUint64(&m.TCP),
		UDP:            atomic.LoadUint64(&m.UDP),
		Other:          atomic.LoadUint64(&m.Other),
		HTTPRequests:   atomic.LoadUint64(&m.HTTPRequests),
		HTTPResponses:  atomic.LoadUint64(&m.HTTPResponses),
		HTTPIncomplete: atomic.LoadUint64(&m.HTTPIncomplete),
		SniffErrors:    atomic.LoadUint64(&m.SniffErrors),
		DNS:            atomic.LoadUint64(&m.DNS),
		RecordErrors:   atomic.LoadUint64(&m.RecordErrors),
		ObserverDrops:  atomic.LoadUint64(&m.ObserverDrops),
		ReleasedFrames: atomic.LoadUint64(&m.ReleasedFrames),
	}
}

// Map returns the counters keyed by their JSON names.
func (m *Metrics) Map() map[string]uint64 {
	s := m.Snapshot()
	return map[string]uint64{
		"frames":          s.Frames,
		"bytes":           s.Bytes,
		"receive_errors":  s.ReceiveErrors,
		"degraded":        s.Degraded,
		"tcp":             s.TCP,
		"udp":             s.UDP,
		"other":           s.Other,
		"http_requests":   s.HTTPRequests,
		"http_responses":  s.HTTPResponses,
		"http_incomplete": s.HTTPIncomplete,
		"sniff_errors":    s.SniffErrors,
		"dns":             s.DNS,
		"record_errors":   s.RecordErrors,
		"observer_drops":  s.ObserverDrops,
		"released_frames": s.ReleasedFrames,
	}
}
