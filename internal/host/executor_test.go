package host

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeHost scripts RunCommand responses for executor tests.
type fakeHost struct {
	exitCode int
	output   string
	err      error
	delay    time.Duration
}

func (f *fakeHost) RunCommand(ctx context.Context, command, workdir string) (int, string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return -1, "", ctx.Err()
		}
	}
	return f.exitCode, f.output, f.err
}

func (f *fakeHost) PutFile(ctx context.Context, content []byte, destPath string) error { return nil }
func (f *fakeHost) GetFile(ctx context.Context, path string) ([]byte, error)          { return nil, nil }
func (f *fakeHost) RemoveAll(ctx context.Context, path string) error                  { return nil }
func (f *fakeHost) Health(ctx context.Context) error                                  { return nil }

func TestExecutorRun(t *testing.T) {
	exec := NewExecutor(&fakeHost{exitCode: 0, output: "hello\n"}, time.Second, nil)

	result, err := exec.Run(context.Background(), "echo hello", "/tmp", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success() {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if result.Output != "hello\n" {
		t.Errorf("output = %q", result.Output)
	}
}

func TestExecutorRun_NonZeroExit(t *testing.T) {
	exec := NewExecutor(&fakeHost{exitCode: 2, output: "boom"}, time.Second, nil)

	result, err := exec.Run(context.Background(), "false", "", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success() {
		t.Error("non-zero exit reported as success")
	}
	if result.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", result.ExitCode)
	}
}

func TestExecutorRun_Timeout(t *testing.T) {
	exec := NewExecutor(&fakeHost{delay: time.Minute}, time.Second, nil)

	_, err := exec.Run(context.Background(), "sleep 600", "", 50*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("err = %v, want ErrCommandTimeout", err)
	}
}

func TestExecutorRun_ParentCanceled(t *testing.T) {
	exec := NewExecutor(&fakeHost{delay: time.Minute}, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Run(ctx, "sleep 600", "", 0)
	if errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("canceled run misreported as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExecutorRun_HostError(t *testing.T) {
	hostErr := errors.New("connection refused")
	exec := NewExecutor(&fakeHost{exitCode: -1, err: hostErr}, time.Second, nil)

	_, err := exec.Run(context.Background(), "echo hi", "", 0)
	if !errors.Is(err, hostErr) {
		t.Fatalf("err = %v, want wrapped host error", err)
	}
}

func TestExecutorDefaults(t *testing.T) {
	exec := NewExecutor(&fakeHost{}, 0, nil)
	if exec.Timeout() != defaultCommandTimeout {
		t.Errorf("default timeout = %s, want %s", exec.Timeout(), defaultCommandTimeout)
	}
}

func TestLimitedWriterCapsOutput(t *testing.T) {
	var buf []byte
	w := &limitedWriter{w: writerFunc(func(p []byte) (int, error) {
		buf = append(buf, p...)
		return len(p), nil
	}), remaining: 4}

	n, err := w.Write([]byte("abcdefgh"))
	if err != nil || n != 8 {
		t.Fatalf("Write = (%d, %v), want (8, nil)", n, err)
	}
	if string(buf) != "abcd" {
		t.Errorf("captured %q, want %q", buf, "abcd")
	}

	// Further writes are discarded without error.
	if n, err := w.Write([]byte("more")); err != nil || n != 4 {
		t.Errorf("post-cap Write = (%d, %v), want (4, nil)", n, err)
	}
	if string(buf) != "abcd" {
		t.Errorf("captured %q after cap, want %q", buf, "abcd")
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
