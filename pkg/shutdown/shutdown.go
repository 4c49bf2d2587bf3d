// Package shutdown guarantees that host network changes are reverted on every
// exit path: interrupt, termination signal, fatal fault and normal return.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/irctrakz/tunsnoop/pkg/logging"
	"github.com/irctrakz/tunsnoop/pkg/netstate"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitStartup = 1
	ExitFault   = 2
)

// DefaultRestoreTimeout bounds the whole restoration sequence.
const DefaultRestoreTimeout = 90 * time.Second

// Restorer reverts host network changes. Only the first call may act.
type Restorer interface {
	Restore(ctx context.Context, physical string, index netstate.Index)
}

// Stopper is anything that can be asked to stop, typically the capture loop.
type Stopper interface {
	Stop()
}

// Coordinator owns the process exit paths.
type Coordinator struct {
	restorer Restorer
	physical string
	index    *netstate.SharedIndex
	timeout  time.Duration
	exit     func(int)

	mu       sync.Mutex
	loop     Stopper
	cleanups []func()

	installed atomic.Bool
	exitOnce  sync.Once
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithExit replaces os.Exit.
func WithExit(exit func(int)) Option {
	return func(c *Coordinator) { c.exit = exit }
}

// WithLoop sets the loop stopped before restoration.
func WithLoop(s Stopper) Option {
	return func(c *Coordinator) { c.loop = s }
}

// WithRestoreTimeout bounds restoration.
func WithRestoreTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// New creates a Coordinator restoring physical through restorer. The
// interface index is read from index at exit time.
func New(restorer Restorer, physical string, index *netstate.SharedIndex, opts ...Option) *Coordinator {
	c := &Coordinator{
		restorer: restorer,
		physical: physical,
		index:    index,
		timeout:  DefaultRestoreTimeout,
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLoop sets the loop stopped on exit. It may be called after Install.
func (c *Coordinator) SetLoop(s Stopper) {
	c.mu.Lock()
	c.loop = s
	c.mu.Unlock()
}

// OnExit registers fn to run after restoration, before the process exits.
// Cleanups run in reverse registration order.
func (c *Coordinator) OnExit(fn func()) {
	c.mu.Lock()
	c.cleanups = append(c.cleanups, fn)
	c.mu.Unlock()
}

// Install registers the interrupt and termination handler. It returns false
// if a handler is already installed.
func (c *Coordinator) Install() bool {
	if !c.installed.CompareAndSwap(false, true) {
		return false
	}
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer c.RecoverFault()
		sig := <-sigc
		logging.Infof("Received %v, shutting down", sig)
		c.OnInterrupt()
	}()
	return true
}

// OnInterrupt stops capture, restores the host and exits with ExitOK.
func (c *Coordinator) OnInterrupt() {
	c.finish(ExitOK)
}

// RecoverFault must be deferred directly. On panic it logs the fault with
// its stack, restores the host and exits with ExitFault.
func (c *Coordinator) RecoverFault() {
	if r := recover(); r != nil {
		c.fault(r)
	}
}

// Go runs fn on a new goroutine guarded by RecoverFault.
func (c *Coordinator) Go(fn func()) {
	go func() {
		defer c.RecoverFault()
		fn()
	}()
}

// Shutdown restores the host and exits with code.
func (c *Coordinator) Shutdown(code int) {
	c.finish(code)
}

func (c *Coordinator) fault(r interface{}) {
	logging.WithComponent("shutdown").Errorf("Fatal fault: %+v", errors.WithStack(panicError(r)))
	c.finish(ExitFault)
}

func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// finish runs at most once. Concurrent callers wait for the first. Every
// step runs even if an earlier one panics, and exit is always reached.
func (c *Coordinator) finish(code int) {
	c.exitOnce.Do(func() {
		defer func() {
			logging.Infof("Exiting with status %d", code)
			c.exit(code)
		}()

		c.mu.Lock()
		loop := c.loop
		cleanups := append([]func(){}, c.cleanups...)
		c.mu.Unlock()

		if loop != nil && !c.step("stop capture", loop.Stop) {
			code = ExitFault
		}

		idx := netstate.UnknownIndex
		if c.index != nil {
			idx = c.index.Get()
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		if !c.step("restore", func() { c.restorer.Restore(ctx, c.physical, idx) }) {
			code = ExitFault
		}
		cancel()

		for i := len(cleanups) - 1; i >= 0; i-- {
			if !c.step("cleanup", cleanups[i]) {
				code = ExitFault
			}
		}
	})
}

// step runs fn and reports false if it panicked.
func (c *Coordinator) step(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithComponent("shutdown").Errorf("Fault during %s: %+v", name, errors.WithStack(panicError(r)))
			ok = false
		}
	}()
	fn()
	return true
}
