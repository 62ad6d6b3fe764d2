package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// maxOutputBytes caps command output to prevent OOM from chatty scripts.
const maxOutputBytes = 1 << 20 // 1 MB

// DockerHost drives a long-running container through the docker CLI. It is
// the substrate for local development, where running the daemon inside the
// container is overkill.
//
// The container must already be running; DockerHost never creates or
// removes it.
type DockerHost struct {
	container string
	logger    *slog.Logger
}

// NewDockerHost creates a host bound to the named container.
func NewDockerHost(container string, logger *slog.Logger) *DockerHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerHost{
		container: container,
		logger:    logger.With(slog.String("component", "docker_host"), slog.String("container", container)),
	}
}

// RunCommand executes a shell command inside the container via docker exec.
func (h *DockerHost) RunCommand(ctx context.Context, command, workdir string) (int, string, error) {
	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, h.container, "sh", "-c", command)

	cmd := exec.CommandContext(ctx, "docker", args...)

	var buf bytes.Buffer
	capped := &limitedWriter{w: &buf, remaining: maxOutputBytes}
	cmd.Stdout = capped
	cmd.Stderr = capped

	h.logger.Debug("docker exec", slog.String("command", command), slog.String("workdir", workdir))

	runErr := cmd.Run()
	if runErr != nil {
		if ctx.Err() != nil {
			return -1, buf.String(), fmt.Errorf("docker exec canceled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is a result, not an error.
			return exitErr.ExitCode(), buf.String(), nil
		}
		return -1, buf.String(), fmt.Errorf("docker exec failed: %w", runErr)
	}
	return 0, buf.String(), nil
}

// PutFile streams content into the container over docker exec stdin.
func (h *DockerHost) PutFile(ctx context.Context, content []byte, destPath string) error {
	script := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(pathDir(destPath)), shellQuote(destPath))
	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", h.container, "sh", "-c", script)
	cmd.Stdin = bytes.NewReader(content)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("writing %s in container: %w: %s", destPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// GetFile reads a file out of the container.
func (h *DockerHost) GetFile(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", "exec", h.container, "cat", path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, remaining: maxDownloadBytes}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("reading %s in container: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// RemoveAll deletes path recursively inside the container.
func (h *DockerHost) RemoveAll(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "docker", "exec", h.container, "rm", "-rf", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("removing %s in container: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Health checks that the container is running.
func (h *DockerHost) Health(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", h.container)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w: %s", h.container, err, strings.TrimSpace(string(out)))
	}
	if strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("container %s is not running", h.container)
	}
	return nil
}

// shellQuote single-quotes s for safe interpolation into sh -c strings.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// pathDir returns the POSIX directory of p without consulting the local OS
// path rules; container paths are always slash-separated.
func pathDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// limitedWriter stops writing after a byte limit. Excess data is silently
// discarded, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
