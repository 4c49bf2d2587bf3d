package tun

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	wtun "golang.zx2c4.com/wireguard/tun"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// MockDevice is an in-memory wtun.Device for testing that doesn't require
// kernel access or elevated privileges.
type MockDevice struct {
	name  string
	mtu   int
	batch int

	packetCh chan []byte
	errCh    chan error
	events   chan wtun.Event
	closed   chan struct{}
	once     sync.Once

	mu             sync.Mutex
	packetsWritten [][]byte
	reads          uint64
}

// NewMockDevice creates a mock device that returns up to batch frames per
// Read.
func NewMockDevice(name string, mtu, batch int) *MockDevice {
	if batch < 1 {
		batch = 1
	}
	return &MockDevice{
		name:     name,
		mtu:      mtu,
		batch:    batch,
		packetCh: make(chan []byte, 1024),
		errCh:    make(chan error, 16),
		events:   make(chan wtun.Event, 4),
		closed:   make(chan struct{}),
	}
}

func (m *MockDevice) File() *os.File { return nil }

// Read blocks for one frame, then drains up to len(bufs) queued frames.
func (m *MockDevice) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	atomic.AddUint64(&m.reads, 1)
	select {
	case <-m.closed:
		return 0, os.ErrClosed
	case err := <-m.errCh:
		return 0, err
	case data := <-m.packetCh:
		sizes[0] = copy(bufs[0][offset:], data)
	}

	n := 1
	for n < len(bufs) {
		select {
		case data := <-m.packetCh:
			sizes[n] = copy(bufs[n][offset:], data)
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Write records frames for inspection in tests.
func (m *MockDevice) Write(bufs [][]byte, offset int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bufs {
		m.packetsWritten = append(m.packetsWritten, append([]byte(nil), b[offset:]...))
	}
	return len(bufs), nil
}

func (m *MockDevice) MTU() (int, error) { return m.mtu, nil }

func (m *MockDevice) Name() (string, error) { return m.name, nil }

func (m *MockDevice) Events() <-chan wtun.Event { return m.events }

func (m *MockDevice) BatchSize() int { return m.batch }

// Close unblocks pending reads and closes the event channel.
func (m *MockDevice) Close() error {
	m.once.Do(func() {
		close(m.closed)
		close(m.events)
	})
	return nil
}

// SimulatePacketReceived queues a copy of data for the next Read.
func (m *MockDevice) SimulatePacketReceived(data []byte) error {
	select {
	case <-m.closed:
		return fmt.Errorf("mock device %s closed", m.name)
	default:
	}
	select {
	case m.packetCh <- append([]byte(nil), data...):
		logging.Debugf("Mock device %s received packet of length %d", m.name, len(data))
		return nil
	default:
		return fmt.Errorf("packet channel full, packet dropped")
	}
}

// SimulateReadError makes a pending or future Read fail with err.
func (m *MockDevice) SimulateReadError(err error) {
	m.errCh <- err
}

// SimulateEvent delivers a link event.
func (m *MockDevice) SimulateEvent(ev wtun.Event) {
	m.events <- ev
}

// Reads returns the number of Read calls made.
func (m *MockDevice) Reads() uint64 { return atomic.LoadUint64(&m.reads) }

// GetWrittenPackets returns copies of the frames written to the device.
func (m *MockDevice) GetWrittenPackets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.packetsWritten))
	for i, p := range m.packetsWritten {
		result[i] = append([]byte(nil), p...)
	}
	return result
}

// MockDriver is a core.Driver whose sessions run on a MockDevice.
type MockDriver struct {
	Device *MockDevice

	// Exists controls whether Open finds the adapter.
	Exists bool
	// OpenErr and CreateErr, when set, fail the respective call.
	OpenErr   error
	CreateErr error

	mu      sync.Mutex
	opens   int
	creates int
}

// NewMockDriver creates a MockDriver around a fresh MockDevice.
func NewMockDriver(name string, exists bool) *MockDriver {
	return &MockDriver{Device: NewMockDevice(name, DefaultMTU, 4), Exists: exists}
}

func (d *MockDriver) Open(name string) (core.Session, error) {
	d.mu.Lock()
	d.opens++
	d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if !d.Exists {
		return nil, fmt.Errorf("open %s: %w", name, core.ErrNotFound)
	}
	return d.session()
}

func (d *MockDriver) Create(name, description string) (core.Session, error) {
	d.mu.Lock()
	d.creates++
	d.mu.Unlock()
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	d.Exists = true
	return d.session()
}

func (d *MockDriver) session() (core.Session, error) {
	s, err := NewSession(d.Device, DefaultRingBytes)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Calls returns how many times Open and Create were called.
func (d *MockDriver) Calls() (opens, creates int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.creates
}
