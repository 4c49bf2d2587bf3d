package netstate

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// DefaultCommandTimeout bounds each host configuration command.
const DefaultCommandTimeout = 15 * time.Second

// Executor runs host commands with os/exec.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor. A zero timeout uses DefaultCommandTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Executor{timeout: timeout}
}

// Run implements core.CommandExecutor.
func (e *Executor) Run(ctx context.Context, name string, args ...string) (core.CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debugf("exec: %s %v", name, args)
	err := cmd.Run()
	res := core.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitStatus = -1
		return res, errors.Wrapf(ctxErr, "%s did not finish", name)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitStatus = exitErr.ExitCode()
		return res, &core.CommandError{
			Name:       name,
			Args:       args,
			ExitStatus: res.ExitStatus,
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
		}
	}
	return res, errors.Wrapf(err, "start %s", name)
}
