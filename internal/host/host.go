// Package host abstracts the isolation substrate that session commands run
// on. Implementations talk to a runner daemon over HTTP or to a local Docker
// container; everything above this package only sees the Host interface.
package host

import (
	"context"
	"time"
)

// Host is the execution substrate. All session operations reduce to these
// five primitives.
type Host interface {
	// RunCommand executes a shell command in workdir and returns its exit
	// code and combined output. An empty workdir means the substrate default.
	RunCommand(ctx context.Context, command, workdir string) (int, string, error)

	// PutFile writes content to destPath on the host, creating or
	// truncating the file.
	PutFile(ctx context.Context, content []byte, destPath string) error

	// GetFile reads the file at path on the host.
	GetFile(ctx context.Context, path string) ([]byte, error)

	// RemoveAll deletes path and everything under it. Missing paths are
	// not an error.
	RemoveAll(ctx context.Context, path string) error

	// Health reports whether the substrate is reachable and ready.
	Health(ctx context.Context) error
}

// CommandResult is the outcome of a host command.
type CommandResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}
