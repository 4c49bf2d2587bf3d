package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// State is the lifecycle state of a Loop.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Run on a Loop that has already run.
var ErrAlreadyStarted = errors.New("capture loop already started")

// Loop pulls frames from a session and hands them to a processor until it
// is stopped.
type Loop struct {
	processor core.PacketProcessor
	metrics   *Metrics
	backoff   time.Duration

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	launch   core.Launcher
}

// NewLoop creates a Loop. A zero backoff uses DefaultRetryBackoff; a nil
// metrics allocates one.
func NewLoop(processor core.PacketProcessor, metrics *Metrics, backoff time.Duration) *Loop {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Loop{
		processor: processor,
		metrics:   metrics,
		backoff:   backoff,
		stopCh:    make(chan struct{}),
		launch:    core.Go,
	}
}

// SetLauncher starts the loop's helper goroutine through launch. Call it
// before Run.
func (l *Loop) SetLauncher(launch core.Launcher) {
	if launch != nil {
		l.launch = launch
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Run captures from session until Stop is called, ctx is done or the
// session closes. Run owns session and closes it on the way out.
func (l *Loop) Run(ctx context.Context, session core.Session) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateCapturing)) {
		if l.State() == StateStopped && l.stopping() {
			// Stopped before it ever ran.
			session.Close()
			return nil
		}
		return ErrAlreadyStarted
	}
	defer l.state.Store(int32(StateStopped))

	log := logging.WithComponent("capture").WithField("interface", session.Name())
	log.Info("Capture started")

	// A blocked receive only returns once the session is closed.
	done := make(chan struct{})
	defer close(done)
	l.launch(func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.stopCh:
		case <-done:
			return
		}
		if err := session.Close(); err != nil {
			log.Debugf("Session close: %v", err)
		}
	})

	for !l.stopping() {
		packet, err := session.ReceiveBlocking()
		if err != nil {
			if errors.Is(err, core.ErrSessionClosed) {
				break
			}
			if l.stopping() {
				break
			}
			atomic.AddUint64(&l.metrics.ReceiveErrors, 1)
			log.Warn((&core.CaptureError{Err: err}).Error())
			l.wait(ctx)
			continue
		}
		if err := l.processor.ProcessPacket(packet); err != nil {
			log.Debugf("Process packet: %v", err)
		}
	}

	session.Close()
	log.Info("Capture stopped")
	return nil
}

// Stop asks the loop to exit at the next iteration boundary. It is safe to
// call from any goroutine, any number of times, before or during Run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		if !l.state.CompareAndSwap(int32(StateCapturing), int32(StateStopping)) {
			l.state.CompareAndSwap(int32(StateIdle), int32(StateStopped))
		}
		close(l.stopCh)
	})
}

func (l *Loop) stopping() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Loop) wait(ctx context.Context) {
	t := time.NewTimer(l.backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-l.stopCh:
	}
}
