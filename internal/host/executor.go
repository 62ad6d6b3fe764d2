package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCommandTimeout is returned by Executor.Run when the host does not
// answer within the deadline.
var ErrCommandTimeout = errors.New("command timed out")

const defaultCommandTimeout = 60 * time.Second

// Executor runs host commands with a bounded wait.
//
// The wait is bounded, the command is not: the remote process keeps running
// after a timeout because the substrate offers no way to kill it from here.
// Output produced after the deadline is discarded.
type Executor struct {
	host    Host
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor wraps a Host with a default command timeout.
// A zero timeout selects the built-in default.
func NewExecutor(h Host, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		host:    h,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Timeout returns the executor's default command timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Host returns the underlying substrate.
func (e *Executor) Host() Host {
	return e.host
}

type commandOutcome struct {
	exitCode int
	output   string
	err      error
}

// Run executes command in workdir, waiting at most timeout (zero = the
// executor default). On timeout the error wraps ErrCommandTimeout.
func (e *Executor) Run(ctx context.Context, command, workdir string, timeout time.Duration) (CommandResult, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	// Buffered so the dispatch goroutine can finish after we stop waiting.
	done := make(chan commandOutcome, 1)
	go func() {
		code, out, err := e.host.RunCommand(ctx, command, workdir)
		done <- commandOutcome{exitCode: code, output: out, err: err}
	}()

	select {
	case outcome := <-done:
		result := CommandResult{
			ExitCode: outcome.exitCode,
			Output:   outcome.output,
			Duration: time.Since(start),
		}
		if outcome.err != nil {
			// A host that honors the context reports the deadline itself;
			// fold that into the same timeout error the detached path uses.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return result, fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
			}
			return result, fmt.Errorf("running command: %w", outcome.err)
		}
		e.logger.Debug("command completed",
			slog.String("command", command),
			slog.Int("exit_code", result.ExitCode),
			slog.Duration("duration", result.Duration),
		)
		return result, nil
	case <-ctx.Done():
		result := CommandResult{ExitCode: -1, Duration: time.Since(start)}
		// Only deadline expiry is a timeout; a canceled parent context
		// (caller gone) is reported as what it is.
		if errors.Is(ctx.Err(), context.Canceled) {
			e.logger.Debug("command canceled", slog.String("command", command))
			return result, fmt.Errorf("running command: %w", ctx.Err())
		}
		e.logger.Warn("command timed out",
			slog.String("command", command),
			slog.Duration("timeout", timeout),
		)
		return result, fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	}
}
