package deps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jkaninda/sanduku/internal/host"
	"github.com/jkaninda/sanduku/internal/observability"
)

// InstalledMessage is returned when every requested dependency is available.
const InstalledMessage = "Dependencies installed successfully."

// Manager installs and removes Python packages on the execution host.
//
// A whitelist gates what may be installed ("*" allows everything) and a
// cache of already-present packages avoids reinstalling what the runtime
// image ships with. Cached packages survive uninstall requests.
type Manager struct {
	exec      *host.Executor
	policy    InstallPolicy
	allowAll  bool
	whitelist map[string]bool

	mu    sync.Mutex
	cache map[string]bool // lowercased package names

	metrics *observability.MetricsCollector
	logger  *slog.Logger
}

// NewManager builds a dependency manager: it runs the policy's init
// commands, seeds the cache from the host's package list, and pre-installs
// the configured cached dependencies (which must pass the whitelist).
func NewManager(ctx context.Context, exec *host.Executor, policy InstallPolicy, whitelist, cached []string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		exec:      exec,
		policy:    policy,
		whitelist: make(map[string]bool, len(whitelist)),
		cache:     make(map[string]bool),
		logger:    logger.With(slog.String("component", "deps")),
	}
	for _, name := range whitelist {
		if name == "*" {
			m.allowAll = true
			continue
		}
		m.whitelist[strings.ToLower(name)] = true
	}

	for _, command := range policy.InitCommands() {
		result, err := exec.Run(ctx, command, "", 0)
		if err != nil {
			return nil, fmt.Errorf("install policy init %q: %w", command, err)
		}
		if !result.Success() {
			return nil, fmt.Errorf("install policy init %q exited %d: %s", command, result.ExitCode, result.Output)
		}
	}

	result, err := exec.Run(ctx, policy.ListCommand(), "", 0)
	if err != nil {
		return nil, fmt.Errorf("listing installed packages: %w", err)
	}
	for _, pkg := range policy.ParsePackages(result.Output) {
		m.cache[strings.ToLower(pkg)] = true
	}
	m.logger.Info("package cache seeded", slog.Int("packages", len(m.cache)))

	for _, name := range cached {
		if !m.whitelisted(name) {
			return nil, fmt.Errorf("cached dependency %s is not in the whitelist", name)
		}
	}
	for _, name := range cached {
		if m.isCached(name) {
			continue
		}
		if err := m.install(ctx, name); err != nil {
			return nil, fmt.Errorf("pre-installing cached dependency %s: %w", name, err)
		}
		m.markCached(name)
	}

	return m, nil
}

// WithMetrics attaches a metrics collector reporting install outcomes.
func (m *Manager) WithMetrics(metrics *observability.MetricsCollector) *Manager {
	m.metrics = metrics
	return m
}

// Install makes the named packages available on the host. The returned
// message is user-facing; installed lists the packages this call actually
// installed (cached ones excluded) so the caller can undo them later.
//
// The whole batch is prechecked against the whitelist before anything is
// installed, and installation stops at the first failure.
func (m *Manager) Install(ctx context.Context, names []string) (string, []string) {
	names = dedupe(names)

	for _, name := range names {
		if !m.whitelisted(name) {
			return fmt.Sprintf("Dependency: %s is not in the whitelist.", name), nil
		}
	}

	var installed []string
	for _, name := range names {
		if m.isCached(name) {
			continue
		}
		if err := m.install(ctx, name); err != nil {
			m.logger.Warn("dependency install failed",
				slog.String("package", name),
				slog.String("error", err.Error()),
			)
			return fmt.Sprintf("Failed to install dependency %s", name), installed
		}
		installed = append(installed, name)
	}
	return InstalledMessage, installed
}

// Uninstall removes the named packages, best effort. Cached packages are
// left alone and failures are logged, not returned.
func (m *Manager) Uninstall(ctx context.Context, names []string) {
	for _, name := range dedupe(names) {
		if m.isCached(name) {
			continue
		}
		result, err := m.exec.Run(ctx, m.policy.UninstallCommand(name), "", 0)
		if err != nil || !result.Success() {
			m.logger.Warn("dependency uninstall failed", slog.String("package", name))
		}
	}
}

// Packages returns the cached package names, sorted.
func (m *Manager) Packages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkgs := make([]string, 0, len(m.cache))
	for pkg := range m.cache {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

func (m *Manager) install(ctx context.Context, name string) error {
	result, err := m.exec.Run(ctx, m.policy.InstallCommand(name), "", 0)
	if err == nil && !result.Success() {
		err = fmt.Errorf("install exited %d: %s", result.ExitCode, result.Output)
	}
	m.metrics.RecordDependencyInstall(err == nil)
	return err
}

func (m *Manager) whitelisted(name string) bool {
	if m.allowAll {
		return true
	}
	return m.whitelist[strings.ToLower(name)]
}

func (m *Manager) isCached(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache[strings.ToLower(name)]
}

func (m *Manager) markCached(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[strings.ToLower(name)] = true
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, name := range names {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}
