package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/deps"
	"github.com/jkaninda/sanduku/internal/host"
)

// fakeHost is an in-memory substrate: files live in a map, commands are
// answered from a prefix-keyed response table.
type fakeHost struct {
	mu        sync.Mutex
	files     map[string][]byte
	removed   []string
	commands  []string
	responses map[string]fakeResponse
	delay     map[string]time.Duration // per command prefix
}

type fakeResponse struct {
	exitCode int
	output   string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files:     make(map[string][]byte),
		responses: make(map[string]fakeResponse),
		delay:     make(map[string]time.Duration),
	}
}

func (f *fakeHost) RunCommand(ctx context.Context, command, workdir string) (int, string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	var resp fakeResponse
	var wait time.Duration
	for prefix, r := range f.responses {
		if strings.HasPrefix(command, prefix) {
			resp = r
		}
	}
	for prefix, d := range f.delay {
		if strings.HasPrefix(command, prefix) {
			wait = d
		}
	}
	f.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return -1, "", ctx.Err()
		}
	}
	return resp.exitCode, resp.output, nil
}

func (f *fakeHost) PutFile(ctx context.Context, content []byte, destPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[destPath] = content
	return nil
}

func (f *fakeHost) GetFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (f *fakeHost) RemoveAll(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	for p := range f.files {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(f.files, p)
		}
	}
	return nil
}

func (f *fakeHost) Health(ctx context.Context) error { return nil }

func (f *fakeHost) ranPrefix(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeHost) removedPrefix(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.removed {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, fake *fakeHost, timeout time.Duration) *Manager {
	t.Helper()
	exec := host.NewExecutor(fake, timeout, nil)
	depsMgr, err := deps.NewManager(context.Background(), exec, deps.PipPolicy{}, []string{"*"}, nil, nil)
	if err != nil {
		t.Fatalf("deps.NewManager: %v", err)
	}
	m, err := NewManager(context.Background(), exec, depsMgr, "/work", nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManagerCreate(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)

	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Workdir() != "/work/demo" || s.SrcDir() != "/work/demo/src" || s.ArtifactsDir() != "/work/demo/artifacts" {
		t.Errorf("layout = %s, %s, %s", s.Workdir(), s.SrcDir(), s.ArtifactsDir())
	}
	if !fake.ranPrefix("mkdir -p '/work/demo/src' '/work/demo/artifacts'") {
		t.Errorf("mkdir not issued, commands: %v", fake.commands)
	}

	if _, err := m.Create(context.Background(), "demo"); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate create err = %v", err)
	}
}

func TestManagerCreate_GeneratedName(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)

	s, err := m.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(s.Name()) {
		t.Errorf("generated name = %q, want 16 hex chars", s.Name())
	}
}

func TestManagerClose(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)

	if _, err := m.Create(context.Background(), "demo"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Close(context.Background(), "demo"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.removedPrefix("/work/demo") {
		t.Error("workspace not removed")
	}
	if _, err := m.Get("demo"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after close err = %v", err)
	}
	if err := m.Close(context.Background(), "demo"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double close err = %v", err)
	}
}

func TestSessionRun(t *testing.T) {
	fake := newFakeHost()
	fake.responses["python3 "] = fakeResponse{output: "hello\n"}
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, ok := s.Run(context.Background(), `print("hello")`, nil, nil)
	if !ok {
		t.Fatalf("Run failed: %s", out)
	}
	if out != "hello\n" {
		t.Errorf("output = %q", out)
	}
	// Staged script cleaned up afterwards.
	if !fake.removedPrefix("/work/demo/src/script_") {
		t.Errorf("staged script not removed, removed: %v", fake.removed)
	}
}

func TestSessionRun_PolicyRejection(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, ok := s.Run(context.Background(), "import os\nos.system('id')", nil, nil)
	if ok {
		t.Fatal("unsafe code reported success")
	}
	if out != "Unsafe module import: os" {
		t.Errorf("output = %q", out)
	}
	if len(fake.files) != 0 {
		t.Error("rejected code was staged on the host")
	}
	if fake.ranPrefix("python3 ") {
		t.Error("rejected code was executed")
	}
}

func TestSessionRun_InstallsAndUninstallsDeps(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if out, ok := s.Run(context.Background(), "import requests\nprint(requests)", nil, nil); !ok {
		t.Fatalf("Run failed: %s", out)
	}
	if !fake.ranPrefix("pip install requests") {
		t.Errorf("dependency not installed, commands: %v", fake.commands)
	}
	if !fake.ranPrefix("pip uninstall -y requests") {
		t.Errorf("dependency not uninstalled, commands: %v", fake.commands)
	}
}

func TestSessionRun_IgnoreDependencies(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.Run(context.Background(), "import mylocalmodule", []string{"mylocalmodule"}, nil)
	if fake.ranPrefix("pip install mylocalmodule") {
		t.Error("ignored dependency was installed")
	}
}

func TestSessionRun_InstallFailureSkipsExecution(t *testing.T) {
	fake := newFakeHost()
	fake.responses["pip install"] = fakeResponse{exitCode: 1, output: "boom"}
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, ok := s.Run(context.Background(), "import requests", nil, nil)
	if ok {
		t.Fatal("install failure reported success")
	}
	if out != "Failed to install dependency requests" {
		t.Errorf("output = %q", out)
	}
	if fake.ranPrefix("python3 ") {
		t.Error("script executed despite install failure")
	}
}

func TestSessionRun_Timeout(t *testing.T) {
	fake := newFakeHost()
	fake.delay["python3 "] = time.Minute
	m := newTestManager(t, fake, 50*time.Millisecond)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, ok := s.Run(context.Background(), `print("slow")`, nil, nil)
	if ok {
		t.Fatal("timed-out run reported success")
	}
	if out != TimeoutMessage {
		t.Errorf("output = %q, want %q", out, TimeoutMessage)
	}
}

func TestSessionRun_NonZeroExit(t *testing.T) {
	fake := newFakeHost()
	fake.responses["python3 "] = fakeResponse{exitCode: 1, output: "Traceback ...\n"}
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, ok := s.Run(context.Background(), `raise ValueError("nope")`, nil, nil)
	if ok {
		t.Fatal("failing script reported success")
	}
	if !strings.Contains(out, "Traceback") {
		t.Errorf("output = %q", out)
	}
}

func TestSessionUploadFile(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.UploadFile(context.Background(), "data.csv", []byte("a,b\n")); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if _, ok := fake.files["/work/demo/src/data.csv"]; !ok {
		t.Errorf("file not staged, files: %v", fake.files)
	}

	for _, bad := range []string{"", "../x", "a/b", `a\b`, ".hidden"} {
		if err := s.UploadFile(context.Background(), bad, nil); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("UploadFile(%q) err = %v, want ErrInvalidFilename", bad, err)
		}
	}
}

func TestSessionDownloadArtifact(t *testing.T) {
	fake := newFakeHost()
	fake.files["/work/demo/artifacts/plot.png"] = []byte("png-bytes")
	fake.files["/work/demo/secret.txt"] = []byte("secret")
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := s.DownloadArtifact(context.Background(), "plot.png")
	if err != nil {
		t.Fatalf("DownloadArtifact: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := s.DownloadArtifact(context.Background(), "../secret.txt"); !errors.Is(err, ErrPathOutsideWorkspace) {
		t.Errorf("traversal err = %v, want ErrPathOutsideWorkspace", err)
	}

	// A parent segment is rejected even when it would resolve back inside
	// the artifact directory.
	if _, err := s.DownloadArtifact(context.Background(), "sub/../plot.png"); !errors.Is(err, ErrPathOutsideWorkspace) {
		t.Errorf("parent-segment err = %v, want ErrPathOutsideWorkspace", err)
	}
}

func TestSessionArtifacts(t *testing.T) {
	fake := newFakeHost()
	fake.responses["ls -A1"] = fakeResponse{output: "plot.png\nresults.csv\n"}
	m := newTestManager(t, fake, time.Second)
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	files, err := s.Artifacts(context.Background())
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(files) != 2 || files[0] != "plot.png" || files[1] != "results.csv" {
		t.Errorf("files = %v", files)
	}
}

func TestManagerCloseIdle(t *testing.T) {
	fake := newFakeHost()
	m := newTestManager(t, fake, time.Second)

	stale, err := m.Create(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "fresh"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale.mu.Lock()
	stale.lastUsed = time.Now().Add(-time.Hour)
	stale.mu.Unlock()

	closed := m.CloseIdle(context.Background(), 30*time.Minute)
	if len(closed) != 1 || closed[0] != "stale" {
		t.Errorf("closed = %v", closed)
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Errorf("fresh session reaped: %v", err)
	}
}

type recordingStore struct {
	mu   sync.Mutex
	recs []Execution
}

func (r *recordingStore) RecordExecution(ctx context.Context, exec Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, exec)
	return nil
}

func TestSessionRun_RecordsHistory(t *testing.T) {
	fake := newFakeHost()
	fake.responses["python3 "] = fakeResponse{output: "ok\n"}
	exec := host.NewExecutor(fake, time.Second, nil)
	depsMgr, err := deps.NewManager(context.Background(), exec, deps.PipPolicy{}, []string{"*"}, nil, nil)
	if err != nil {
		t.Fatalf("deps.NewManager: %v", err)
	}
	store := &recordingStore{}
	m, err := NewManager(context.Background(), exec, depsMgr, "/work", store, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := m.Create(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.Run(context.Background(), `print("ok")`, nil, nil)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(store.recs))
	}
	rec := store.recs[0]
	if rec.Session != "demo" || !rec.Success || rec.Output != "ok\n" {
		t.Errorf("record = %+v", rec)
	}
	if !strings.HasPrefix(rec.Script, "script_") || !strings.HasSuffix(rec.Script, ".py") {
		t.Errorf("script name = %q", rec.Script)
	}
}
