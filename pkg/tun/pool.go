package tun

// Frame buffers come in a few common size classes; a session uses the
// smallest class that holds offset+MTU. Buffers are only taken back when
// their capacity matches the pool's class.

const (
	frameSmall = 2048
	frameMed   = 4096
	frameLarge = 8192
	frameXL    = 16384
	frameMax   = 65535 + readOffset
)

func sizeClass(n int) int {
	switch {
	case n <= frameSmall:
		return frameSmall
	case n <= frameMed:
		return frameMed
	case n <= frameLarge:
		return frameLarge
	case n <= frameXL:
		return frameXL
	default:
		return frameMax
	}
}

// framePool is a bounded free list standing in for the driver's receive
// ring: at most ringBytes worth of idle buffers are retained.
type framePool struct {
	size int
	free chan []byte
}

func newFramePool(frameSize, ringBytes int) *framePool {
	size := sizeClass(frameSize)
	n := ringBytes / size
	if n < 1 {
		n = 1
	}
	return &framePool{size: size, free: make(chan []byte, n)}
}

func (p *framePool) get() []byte {
	select {
	case b := <-p.free:
		return b[:p.size]
	default:
		return make([]byte, p.size)
	}
}

func (p *framePool) put(b []byte) {
	if cap(b) != p.size {
		return
	}
	select {
	case p.free <- b[:p.size]:
	default:
	}
}

// idle returns the number of buffers waiting in the free list.
func (p *framePool) idle() int { return len(p.free) }
