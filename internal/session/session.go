// Package session ties the policy gate, dependency manager, and execution
// host together into named, isolated workspaces for running Python code.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/sanduku/internal/deps"
	"github.com/jkaninda/sanduku/internal/host"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/policy"
)

// TimeoutMessage is the output returned when execution exceeds the budget.
const TimeoutMessage = "Error: Execution timed out."

const cleanupTimeout = 5 * time.Second

// Execution is one completed run, as handed to the history recorder.
type Execution struct {
	Session   string
	Script    string
	Output    string
	Success   bool
	Duration  time.Duration
	StartedAt time.Time
}

// Recorder persists execution history. Implementations must tolerate being
// called concurrently.
type Recorder interface {
	RecordExecution(ctx context.Context, exec Execution) error
}

// Session is a named workspace on the execution host with src/ and
// artifacts/ subdirectories. Scripts are staged into src/ and run with the
// workspace as working directory, so anything they write into artifacts/
// is retrievable afterwards.
//
// Concurrent Run calls on one session are not serialized: staged script
// names are unique, but scripts that mutate shared workspace files race
// with each other.
type Session struct {
	name         string
	workdir      string
	srcDir       string
	artifactsDir string

	exec     *host.Executor
	deps     *deps.Manager
	recorder Recorder
	metrics  *observability.MetricsCollector
	logger   *slog.Logger

	mu       sync.Mutex
	lastUsed time.Time
}

// Name returns the session identifier.
func (s *Session) Name() string { return s.name }

// Workdir returns the workspace root on the host.
func (s *Session) Workdir() string { return s.workdir }

// SrcDir returns the staged-script directory.
func (s *Session) SrcDir() string { return s.srcDir }

// ArtifactsDir returns the artifact output directory.
func (s *Session) ArtifactsDir() string { return s.artifactsDir }

// LastUsed returns the time of the session's most recent activity.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Run executes Python code in the session and returns its output and
// whether it succeeded. It never returns an error: gate rejections,
// install failures, timeouts, and panics are all rendered as output text.
//
// ignoreDeps names imports excluded from dependency installation;
// ignoreUnsafe names functions excluded from the unsafe-call check.
func (s *Session) Run(ctx context.Context, code string, ignoreDeps, ignoreUnsafe []string) (output string, success bool) {
	s.touch()
	start := time.Now()
	script := "script_" + uuid.NewString() + ".py"

	defer func() {
		if r := recover(); r != nil {
			output = fmt.Sprintf("Error: %v", r)
			success = false
			s.logger.Error("execution panicked", slog.String("session", s.name), slog.Any("panic", r))
		}
		s.record(script, output, success, time.Since(start), start)
	}()

	verdict := policy.Check(code, ignoreUnsafe)
	s.metrics.RecordPolicyCheck(verdict.Safe)
	if !verdict.Safe {
		s.logger.Info("code rejected by policy gate",
			slog.String("session", s.name),
			slog.String("reason", verdict.Reason),
		)
		return verdict.Reason, false
	}

	scriptPath := path.Join(s.srcDir, script)
	if err := s.exec.Host().PutFile(ctx, []byte(code), scriptPath); err != nil {
		return fmt.Sprintf("Error: %v", err), false
	}
	defer s.removeScript(scriptPath)

	names, err := deps.Extract(code)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), false
	}
	names = subtract(names, ignoreDeps)

	msg, installed := s.deps.Install(ctx, names)
	defer s.uninstallInstalled(installed)
	if msg != deps.InstalledMessage {
		return msg, false
	}

	result, err := s.exec.Run(ctx, "python3 "+scriptPath, s.workdir, 0)
	if err != nil {
		if errors.Is(err, host.ErrCommandTimeout) {
			return TimeoutMessage, false
		}
		return fmt.Sprintf("Error: %v", err), false
	}

	s.logger.Info("execution completed",
		slog.String("session", s.name),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", result.Duration),
	)
	return result.Output, result.Success()
}

// UploadFile stages content under src/ after validating the filename.
func (s *Session) UploadFile(ctx context.Context, filename string, content []byte) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	s.touch()
	if err := s.exec.Host().PutFile(ctx, content, path.Join(s.srcDir, filename)); err != nil {
		return fmt.Errorf("uploading %s: %w", filename, err)
	}
	return nil
}

// Artifacts lists the files currently present under artifacts/.
func (s *Session) Artifacts(ctx context.Context) ([]string, error) {
	result, err := s.exec.Run(ctx, "ls -A1 "+shellQuote(s.artifactsDir), "", 0)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("listing artifacts: exit %d: %s", result.ExitCode, result.Output)
	}
	var files []string
	for _, line := range strings.Split(result.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// DownloadArtifact reads one file from artifacts/. Any parent-directory
// segment in filename is rejected, even one that would resolve back inside
// the artifact directory.
func (s *Session) DownloadArtifact(ctx context.Context, filename string) ([]byte, error) {
	for _, segment := range strings.Split(filename, "/") {
		if segment == ".." {
			return nil, fmt.Errorf("artifact %q: %w", filename, ErrPathOutsideWorkspace)
		}
	}
	resolved := path.Join(s.artifactsDir, filename)
	if !strings.HasPrefix(resolved, s.artifactsDir+"/") {
		return nil, fmt.Errorf("artifact %q: %w", filename, ErrPathOutsideWorkspace)
	}
	data, err := s.exec.Host().GetFile(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("downloading artifact %s: %w", filename, err)
	}
	return data, nil
}

// removeScript deletes a staged script, best effort. Runs on a background
// context so cleanup survives a canceled request.
func (s *Session) removeScript(scriptPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.exec.Host().RemoveAll(ctx, scriptPath); err != nil {
		s.logger.Warn("failed to remove staged script",
			slog.String("path", scriptPath),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) uninstallInstalled(installed []string) {
	if len(installed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.exec.Timeout())
	defer cancel()
	s.deps.Uninstall(ctx, installed)
}

func (s *Session) record(script, output string, success bool, duration time.Duration, startedAt time.Time) {
	s.metrics.RecordExecution(success, duration.Seconds())
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := s.recorder.RecordExecution(ctx, Execution{
		Session:   s.name,
		Script:    script,
		Output:    output,
		Success:   success,
		Duration:  duration,
		StartedAt: startedAt,
	})
	if err != nil {
		s.logger.Warn("failed to record execution", slog.String("error", err.Error()))
	}
}

// subtract removes ignore entries from names, case-insensitively.
func subtract(names, ignore []string) []string {
	if len(ignore) == 0 {
		return names
	}
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[strings.ToLower(name)] = true
	}
	out := names[:0:0]
	for _, name := range names {
		if !skip[strings.ToLower(name)] {
			out = append(out, name)
		}
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
