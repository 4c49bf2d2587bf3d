package core

// Driver provisions virtual interfaces. Open reports ErrNotFound when the
// named adapter does not exist; callers then fall back to Create.
type Driver interface {
	// Open attaches to an existing adapter.
	Open(name string) (Session, error)

	// Create creates a new adapter and starts a session on it.
	Create(name, description string) (Session, error)
}

// Session is a running capture session on a virtual interface.
type Session interface {
	// Name returns the name of the interface backing the session
	Name() string

	// ReceiveBlocking blocks until the next frame arrives. The returned
	// Packet is borrowed; pass it to ReleasePacket once done.
	ReceiveBlocking() (Packet, error)

	// Close ends the session. A blocked ReceiveBlocking returns
	// ErrSessionClosed.
	Close() error

	// Metrics returns counters for the session
	Metrics() SessionMetrics
}

// Launcher starts fn on a new goroutine. Long-lived goroutines are started
// through one so a panic reaches the fault handler.
type Launcher func(fn func())

// Go is the plain Launcher.
func Go(fn func()) { go fn() }

// PacketProcessor processes frames received from a session.
type PacketProcessor interface {
	// ProcessPacket processes one frame. It owns the release of the frame.
	ProcessPacket(packet Packet) error
}

// SessionMetrics contains metrics for a capture session
type SessionMetrics struct {
	// PacketsReceived is the number of frames handed out by the session
	PacketsReceived uint64

	// BytesReceived is the number of bytes handed out by the session
	BytesReceived uint64

	// Errors is the number of receive errors encountered
	Errors uint64
}
