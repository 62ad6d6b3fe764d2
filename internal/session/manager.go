package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/sanduku/internal/deps"
	"github.com/jkaninda/sanduku/internal/host"
	"github.com/jkaninda/sanduku/internal/observability"
)

var (
	// ErrSessionExists is returned when creating a session whose name is
	// already live.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned for lookups and closes of unknown
	// sessions, including a second close of the same session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidFilename is returned for upload names that could escape
	// the workspace.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrPathOutsideWorkspace is returned when a requested path resolves
	// outside the session's directories.
	ErrPathOutsideWorkspace = errors.New("path resolves outside the workspace")
)

// ValidateFilename rejects names that are empty, hidden, or could traverse
// out of the destination directory.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidFilename)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains a parent reference", ErrInvalidFilename, name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is a hidden file", ErrInvalidFilename, name)
	}
	return nil
}

// Manager owns the live sessions and their workspaces on the execution
// host. Session names are unique among live sessions; a closed session's
// name may be reused.
type Manager struct {
	exec     *host.Executor
	deps     *deps.Manager
	baseDir  string
	recorder Recorder
	metrics  *observability.MetricsCollector
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager verifies the host is healthy, resolves the workspace base
// directory ($HOME/sanduku when baseDir is empty), and returns an empty
// manager.
func NewManager(ctx context.Context, exec *host.Executor, depsMgr *deps.Manager, baseDir string, recorder Recorder, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "session"))

	if err := exec.Host().Health(ctx); err != nil {
		return nil, fmt.Errorf("execution host not ready: %w", err)
	}

	if baseDir == "" {
		result, err := exec.Run(ctx, "echo $HOME", "", 0)
		if err != nil {
			return nil, fmt.Errorf("resolving host home directory: %w", err)
		}
		home := strings.TrimSpace(result.Output)
		if home == "" {
			return nil, fmt.Errorf("resolving host home directory: empty $HOME")
		}
		baseDir = path.Join(home, "sanduku")
	}

	return &Manager{
		exec:     exec,
		deps:     depsMgr,
		baseDir:  baseDir,
		recorder: recorder,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// WithMetrics attaches a metrics collector. Sessions created afterwards
// report policy verdicts and execution outcomes to it.
func (m *Manager) WithMetrics(metrics *observability.MetricsCollector) *Manager {
	m.metrics = metrics
	return m
}

// Create provisions a session workspace. An empty name gets a generated
// hex identifier.
func (m *Manager) Create(ctx context.Context, name string) (*Session, error) {
	if name == "" {
		generated, err := generateName()
		if err != nil {
			return nil, fmt.Errorf("generating session name: %w", err)
		}
		name = generated
	}

	workdir := path.Join(m.baseDir, name)
	s := &Session{
		name:         name,
		workdir:      workdir,
		srcDir:       path.Join(workdir, "src"),
		artifactsDir: path.Join(workdir, "artifacts"),
		exec:         m.exec,
		deps:         m.deps,
		recorder:     m.recorder,
		metrics:      m.metrics,
		logger:       m.logger,
		lastUsed:     time.Now(),
	}

	m.mu.Lock()
	if _, dup := m.sessions[name]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", name, ErrSessionExists)
	}
	m.sessions[name] = s
	m.mu.Unlock()

	command := fmt.Sprintf("mkdir -p %s %s", shellQuote(s.srcDir), shellQuote(s.artifactsDir))
	result, err := m.exec.Run(ctx, command, "", 0)
	if err == nil && !result.Success() {
		err = fmt.Errorf("mkdir exited %d: %s", result.ExitCode, result.Output)
	}
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, name)
		m.mu.Unlock()
		return nil, fmt.Errorf("provisioning workspace for %s: %w", name, err)
	}

	m.logger.Info("session created", slog.String("session", name), slog.String("workdir", workdir))
	m.updateSessionsGauge()
	return s, nil
}

// Get returns the live session with the given name.
func (m *Manager) Get(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", name, ErrSessionNotFound)
	}
	return s, nil
}

// List returns the live sessions sorted by name.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Close removes the session's workspace from the host and forgets it.
// Closing an unknown or already-closed session returns ErrSessionNotFound.
func (m *Manager) Close(ctx context.Context, name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", name, ErrSessionNotFound)
	}

	if err := m.exec.Host().RemoveAll(ctx, s.workdir); err != nil {
		return fmt.Errorf("removing workspace for %s: %w", name, err)
	}
	m.logger.Info("session closed", slog.String("session", name))
	m.updateSessionsGauge()
	return nil
}

func (m *Manager) updateSessionsGauge() {
	m.mu.Lock()
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(count)
}

// CloseIdle closes every session idle for longer than ttl and returns the
// names it closed. Used by the scheduled reaper.
func (m *Manager) CloseIdle(ctx context.Context, ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	var idle []string
	m.mu.Lock()
	for name, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, name)
		}
	}
	m.mu.Unlock()

	var closed []string
	for _, name := range idle {
		if err := m.Close(ctx, name); err != nil {
			m.logger.Warn("failed to reap idle session",
				slog.String("session", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed = append(closed, name)
	}
	return closed
}

// generateName returns a 16-character hex session identifier.
func generateName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
