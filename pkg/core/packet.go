package core

import (
	"sync/atomic"
)

// Global debug flag that can be set via configuration
var debugMode uint32

// SetDebugMode sets the global debug mode flag.
// When debug mode is enabled, NewPacket copies the frame it wraps so that
// observers can safely retain it; otherwise the caller's buffer is borrowed.
func SetDebugMode(enabled bool) {
	if enabled {
		atomic.StoreUint32(&debugMode, 1)
	} else {
		atomic.StoreUint32(&debugMode, 0)
	}
}

// IsDebugMode returns whether debug mode is enabled
func IsDebugMode() bool {
	return atomic.LoadUint32(&debugMode) == 1
}

// Packet is one captured frame. The bytes are borrowed from the capture
// session and are only valid until ReleasePacket is called on it.
type Packet interface {
	// Data returns the frame bytes without copying.
	Data() []byte

	// Length returns the frame length
	Length() int
}

// pooledPacket is a Packet backed by a session buffer. When processing of
// the frame completes, ReleasePacket hands the buffer back to the session.
type pooledPacket struct {
	data     []byte
	releaser func([]byte)
}

// NewPooledPacket wraps a session buffer as a Packet with an optional
// releaser. The releaser may be nil. Do not mutate data after passing it in.
func NewPooledPacket(data []byte, releaser func([]byte)) Packet {
	if data == nil {
		data = make([]byte, 0)
	}
	return &pooledPacket{data: data, releaser: releaser}
}

func (p *pooledPacket) Data() []byte { return p.data }
func (p *pooledPacket) Length() int  { return len(p.data) }

func (p *pooledPacket) Released() bool { return p.data == nil }

// IsReleased reports whether p's buffer has already been handed back to the
// session. Packets that are not pooled are never released.
func IsReleased(p Packet) bool {
	r, ok := p.(interface{ Released() bool })
	return ok && r.Released()
}

// ReleasePacket returns a packet's buffer to its session if it was created
// via NewPooledPacket. Releasing twice is a no-op.
func ReleasePacket(p Packet) {
	if pp, ok := p.(*pooledPacket); ok {
		if pp.releaser != nil && pp.data != nil {
			pp.releaser(pp.data)
		}
		pp.data = nil
		pp.releaser = nil
	}
}

// CopyPrefix returns an owned copy of at most limit bytes of b.
// A non-positive limit copies nothing.
func CopyPrefix(b []byte, limit int) []byte {
	if limit <= 0 || len(b) == 0 {
		return nil
	}
	if len(b) > limit {
		b = b[:limit]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// SimplePacket is a Packet over a plain byte slice.
type SimplePacket struct {
	data []byte
}

// NewPacket creates a new packet
func NewPacket(data []byte) Packet {
	if data == nil {
		return &SimplePacket{data: make([]byte, 0)}
	}

	if IsDebugMode() {
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		return &SimplePacket{data: dataCopy}
	}

	return &SimplePacket{data: data}
}

// Data returns the packet data
func (p *SimplePacket) Data() []byte {
	return p.data
}

// Length returns the packet length
func (p *SimplePacket) Length() int {
	return len(p.data)
}
