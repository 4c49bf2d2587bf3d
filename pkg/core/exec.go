package core

import "context"

// CommandExecutor runs external commands synchronously. It is the only way
// the interceptor touches host network configuration.
type CommandExecutor interface {
	// Run executes name with args. A non-zero exit status is reported as a
	// *CommandError alongside the captured result.
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// CommandResult is the captured outcome of one command.
type CommandResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}
