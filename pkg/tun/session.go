package tun

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	wtun "golang.zx2c4.com/wireguard/tun"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// readOffset leaves headroom in front of each frame for drivers that
// prepend a virtio header.
const readOffset = 16

// DefaultRingBytes is the default receive ring capacity.
const DefaultRingBytes = 0x200000

type frame struct {
	buf []byte
	n   int
}

// Session reads frames from a wireguard-go tun.Device. Frames from one
// batched read are queued and handed out one at a time.
type Session struct {
	dev  wtun.Device
	name string
	pool *framePool

	rmu     sync.Mutex
	bufs    [][]byte
	sizes   []int
	pending []frame
	head    int

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	metrics core.SessionMetrics
}

type options struct {
	launch core.Launcher
}

// Option configures sessions.
type Option func(*options)

// WithLauncher starts the session's event watcher through l.
func WithLauncher(l core.Launcher) Option {
	return func(o *options) { o.launch = l }
}

func buildOptions(opts []Option) options {
	o := options{launch: core.Go}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSession starts a capture session on dev.
func NewSession(dev wtun.Device, ringBytes int, opts ...Option) (*Session, error) {
	name, err := dev.Name()
	if err != nil {
		return nil, errors.Wrap(err, "tun device name")
	}
	mtu, err := dev.MTU()
	if err != nil {
		return nil, errors.Wrap(err, "tun device mtu")
	}
	if ringBytes <= 0 {
		ringBytes = DefaultRingBytes
	}
	batch := dev.BatchSize()
	if batch < 1 {
		batch = 1
	}

	s := &Session{
		dev:     dev,
		name:    name,
		pool:    newFramePool(readOffset+mtu, ringBytes),
		bufs:    make([][]byte, batch),
		sizes:   make([]int, batch),
		pending: make([]frame, 0, batch),
		closed:  make(chan struct{}),
	}
	buildOptions(opts).launch(s.watchEvents)

	logging.InfoWithFields(map[string]interface{}{
		"interface": name,
		"mtu":       mtu,
		"batch":     batch,
	}, "Capture session started")
	return s, nil
}

// Name returns the interface name.
func (s *Session) Name() string { return s.name }

// ReceiveBlocking implements core.Session. Only one goroutine may receive
// at a time.
func (s *Session) ReceiveBlocking() (core.Packet, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	for {
		if s.head < len(s.pending) {
			f := s.pending[s.head]
			s.pending[s.head] = frame{}
			s.head++
			return s.wrap(f), nil
		}
		if s.isClosed() {
			return nil, core.ErrSessionClosed
		}

		for i := range s.bufs {
			s.bufs[i] = s.pool.get()
		}
		n, err := s.dev.Read(s.bufs, s.sizes, readOffset)

		s.pending = s.pending[:0]
		s.head = 0
		for i := range s.bufs {
			if i < n {
				s.pending = append(s.pending, frame{buf: s.bufs[i], n: s.sizes[i]})
			} else {
				s.pool.put(s.bufs[i])
			}
			s.bufs[i] = nil
		}

		if err != nil {
			if s.isClosed() {
				s.drop()
				return nil, core.ErrSessionClosed
			}
			atomic.AddUint64(&s.metrics.Errors, 1)
			if n == 0 {
				return nil, errors.Wrap(err, "tun read")
			}
			logging.Debugf("tun read on %s returned %d frames with error: %v", s.name, n, err)
		}
	}
}

func (s *Session) wrap(f frame) core.Packet {
	atomic.AddUint64(&s.metrics.PacketsReceived, 1)
	atomic.AddUint64(&s.metrics.BytesReceived, uint64(f.n))
	buf := f.buf
	return core.NewPooledPacket(buf[readOffset:readOffset+f.n], func([]byte) {
		s.pool.put(buf)
	})
}

// drop returns queued frames to the pool. Callers hold rmu.
func (s *Session) drop() {
	for i := s.head; i < len(s.pending); i++ {
		s.pool.put(s.pending[i].buf)
		s.pending[i] = frame{}
	}
	s.pending = s.pending[:0]
	s.head = 0
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close ends the session and closes the device.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.dev.Close()
		logging.Infof("Capture session on %s closed", s.name)
	})
	return s.closeErr
}

// Metrics returns counters for the session.
func (s *Session) Metrics() core.SessionMetrics {
	return core.SessionMetrics{
		PacketsReceived: atomic.LoadUint64(&s.metrics.PacketsReceived),
		BytesReceived:   atomic.LoadUint64(&s.metrics.BytesReceived),
		Errors:          atomic.LoadUint64(&s.metrics.Errors),
	}
}

// watchEvents logs link state changes until the device closes its event
// channel.
func (s *Session) watchEvents() {
	for ev := range s.dev.Events() {
		switch {
		case ev&wtun.EventUp != 0:
			logging.Infof("Interface %s is up", s.name)
		case ev&wtun.EventDown != 0:
			logging.Warnf("Interface %s is down", s.name)
		case ev&wtun.EventMTUUpdate != 0:
			if mtu, err := s.dev.MTU(); err == nil {
				logging.Infof("Interface %s MTU changed to %d", s.name, mtu)
			}
		}
	}
}
