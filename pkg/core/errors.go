package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Driver.Open when the adapter does not exist.
	ErrNotFound = errors.New("tunsnoop: adapter not found")

	// ErrSessionClosed is returned by a session after Close.
	ErrSessionClosed = errors.New("tunsnoop: session closed")

	// ErrRestored is returned when host configuration is requested after
	// restoration already ran.
	ErrRestored = errors.New("tunsnoop: host network already restored")

	// ErrIncomplete marks a payload that is a valid prefix of a message.
	ErrIncomplete = errors.New("tunsnoop: message incomplete")

	// ErrNotHTTP marks a payload that is not HTTP framing.
	ErrNotHTTP = errors.New("tunsnoop: not HTTP")

	// ErrTooManyHeaders marks an HTTP message over the header limit.
	ErrTooManyHeaders = errors.New("tunsnoop: too many headers")

	// ErrNotDNS marks a port-53 payload that is not a DNS message.
	ErrNotDNS = errors.New("tunsnoop: not DNS")

	// ErrPacketReleased is returned when a frame is processed after its
	// buffer went back to the session.
	ErrPacketReleased = errors.New("tunsnoop: packet already released")
)

// Provisioning stages.
const (
	StageAddress = "address"
	StageIndex   = "index"
	StageRoute   = "route"
)

// ProvisionError reports which provisioning stage failed. Callers may keep
// running without the default route.
type ProvisionError struct {
	Stage string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// CaptureError is a transient receive failure; the loop retries.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture: %v", e.Err) }

func (e *CaptureError) Unwrap() error { return e.Err }

// RestoreError is a failed restoration sub-step. It is logged, never
// propagated and never retried.
type RestoreError struct {
	Step string
	Err  error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore %s: %v", e.Step, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// CommandError is a command that ran but exited non-zero.
type CommandError struct {
	Name       string
	Args       []string
	ExitStatus int
	Stdout     string
	Stderr     string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command failed: %s %s (exit %d)", e.Name, strings.Join(e.Args, " "), e.ExitStatus)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	} else if s := strings.TrimSpace(e.Stdout); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}
