package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(Config{RootDir: t.TempDir(), Timeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestRunCommand(t *testing.T) {
	s := newTestServer(t)

	resp := s.runCommand(context.Background(), "echo hello", s.root, time.Second)
	if !resp.Success || resp.ReturnCode != 0 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Stdout != "hello\n" {
		t.Errorf("stdout = %q", resp.Stdout)
	}
	if resp.ExecutionTime <= 0 {
		t.Errorf("execution time = %f", resp.ExecutionTime)
	}
}

func TestRunCommand_SeparatesStreams(t *testing.T) {
	s := newTestServer(t)

	resp := s.runCommand(context.Background(), "echo out; echo err >&2", s.root, time.Second)
	if resp.Stdout != "out\n" {
		t.Errorf("stdout = %q", resp.Stdout)
	}
	if resp.Stderr != "err\n" {
		t.Errorf("stderr = %q", resp.Stderr)
	}
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	s := newTestServer(t)

	resp := s.runCommand(context.Background(), "exit 3", s.root, time.Second)
	if resp.Success {
		t.Error("exit 3 reported success")
	}
	if resp.ReturnCode != 3 {
		t.Errorf("return code = %d, want 3", resp.ReturnCode)
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	s := newTestServer(t)

	start := time.Now()
	resp := s.runCommand(context.Background(), "sleep 30", s.root, 100*time.Millisecond)
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not enforced")
	}
	if resp.Success {
		t.Error("timed-out command reported success")
	}
	if !strings.Contains(resp.Stderr, "timed out") {
		t.Errorf("stderr = %q", resp.Stderr)
	}
}

func TestRunCommand_Workdir(t *testing.T) {
	s := newTestServer(t)

	resp := s.runCommand(context.Background(), "pwd", s.root, time.Second)
	if strings.TrimSpace(resp.Stdout) != s.root {
		t.Errorf("pwd = %q, want %q", strings.TrimSpace(resp.Stdout), s.root)
	}
}

func TestSafePath(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		path   string
		wantOK bool
	}{
		{"data.csv", true},
		{"sub/dir/file.txt", true},
		{s.root + "/file.txt", true},
		{s.root, true},
		{"", false},
		{"../escape", false},
		{"sub/../../escape", false},
		{"/etc/passwd", false},
	}
	for _, tc := range cases {
		_, err := s.safePath(tc.path)
		if ok := err == nil; ok != tc.wantOK {
			t.Errorf("safePath(%q) err = %v, want ok=%v", tc.path, err, tc.wantOK)
		}
	}
}
