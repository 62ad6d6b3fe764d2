package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jkaninda/okapi"
)

const (
	defaultListenAddr     = ":8222"
	defaultCommandTimeout = 60 * time.Second
	maxCommandTimeout     = 600 * time.Second
	maxOutputBytes        = 1 << 20  // 1 MB per stream
	maxUploadBytes        = 32 << 20 // 32 MB
)

// ErrorBody is the standard error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the runner daemon.
type Config struct {
	ListenAddr string        // e.g. ":8222"
	RootDir    string        // sandbox root; all file paths must resolve under it
	Timeout    time.Duration // default command timeout. 0 = 60s.
}

// Server is the in-container daemon. It assumes the container itself is the
// isolation boundary: commands run directly, but every file path is confined
// to the sandbox root.
type Server struct {
	config Config
	root   string
	logger *slog.Logger
	okapi  *okapi.Okapi
	server *http.Server
}

// NewServer creates the runner daemon.
func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.RootDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving sandbox root: %w", err)
		}
		cfg.RootDir = home
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		root:   root,
		logger: logger.With(slog.String("component", "runner")),
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(maxUploadBytes)),
	}, nil
}

// Start launches the daemon and blocks until it exits.
func (s *Server) Start(ctx context.Context) error {
	s.okapi.Post("/execute-command", s.handleExecuteCommand,
		okapi.DocSummary("Execute a shell command"),
		okapi.DocTags("Commands"),
		okapi.DocRequestBody(CommandRequest{}),
		okapi.DocResponse(CommandResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	s.okapi.Post("/upload-file", s.handleUploadFile,
		okapi.DocSummary("Upload a file into the sandbox"),
		okapi.DocTags("Files"),
		okapi.DocResponse(FileOperationResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	s.okapi.HandleStd("GET", "/download-file", s.handleDownloadFile)
	s.okapi.Delete("/delete-file", s.handleDeleteFile,
		okapi.DocSummary("Delete a file or directory"),
		okapi.DocTags("Files"),
		okapi.DocResponse(FileOperationResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	s.okapi.Get("/list-files", s.handleListFiles,
		okapi.DocSummary("List files under a sandbox directory"),
		okapi.DocTags("Files"),
		okapi.DocResponse(FileListResponse{}),
	)
	s.okapi.Get("/health", s.handleHealth,
		okapi.DocSummary("Daemon health"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("runner daemon starting",
		slog.String("addr", s.config.ListenAddr),
		slog.String("root", s.root),
	)
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the daemon.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("runner daemon stopping")
	return s.okapi.Shutdown(s.server)
}

func (s *Server) handleExecuteCommand(c *okapi.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Command) == "" {
		return c.AbortBadRequest("command is required")
	}

	workdir := s.root
	if req.WorkingDir != "" {
		resolved, err := s.safePath(req.WorkingDir)
		if err != nil {
			return c.AbortBadRequest(err.Error())
		}
		workdir = resolved
	}

	timeout := s.config.Timeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	resp := s.runCommand(c.Context(), req.Command, workdir, timeout)
	return c.OK(resp)
}

// runCommand executes command under sh -c with the whole process group
// killed on timeout, so children of the shell do not linger.
func (s *Server) runCommand(ctx context.Context, command, workdir string, timeout time.Duration) CommandResponse {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Info("executing command",
		slog.String("command", command),
		slog.String("workdir", workdir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	stderr := stderrBuf.String()
	if runErr != nil {
		switch {
		case ctx.Err() != nil:
			exitCode = -1
			stderr += fmt.Sprintf("command timed out after %s", timeout)
		default:
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
				stderr += runErr.Error()
			}
		}
	}

	s.logger.Info("command finished",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
	)
	return CommandResponse{
		Success:       exitCode == 0,
		Stdout:        stdoutBuf.String(),
		Stderr:        stderr,
		ReturnCode:    exitCode,
		ExecutionTime: duration.Seconds(),
	}
}

func (s *Server) handleUploadFile(c *okapi.Context) error {
	r := c.Request()
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return c.AbortBadRequest("invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return c.AbortBadRequest("file field is required")
	}
	defer file.Close()

	dest := r.FormValue("destination")
	if dest == "" {
		dest = header.Filename
	}
	resolved, err := s.safePath(dest)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return c.AbortInternalServerError("creating destination directory failed")
	}
	out, err := os.Create(resolved)
	if err != nil {
		return c.AbortInternalServerError("creating destination file failed")
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(file, maxUploadBytes)); err != nil {
		return c.AbortInternalServerError("writing destination file failed")
	}

	s.logger.Info("file uploaded", slog.String("path", resolved), slog.Int64("size", header.Size))
	return c.OK(FileOperationResponse{Success: true, Message: "file uploaded", Path: resolved})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.safePath(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(resolved)))
	http.ServeFile(w, r, resolved)
}

func (s *Server) handleDeleteFile(c *okapi.Context) error {
	resolved, err := s.safePath(c.Request().URL.Query().Get("path"))
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	if resolved == s.root {
		return c.AbortBadRequest("refusing to delete the sandbox root")
	}
	if err := os.RemoveAll(resolved); err != nil {
		return c.AbortInternalServerError("delete failed")
	}
	s.logger.Info("path deleted", slog.String("path", resolved))
	return c.OK(FileOperationResponse{Success: true, Message: "deleted", Path: resolved})
}

func (s *Server) handleListFiles(c *okapi.Context) error {
	dir := c.Request().URL.Query().Get("path")
	if dir == "" {
		dir = s.root
	}
	resolved, err := s.safePath(dir)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return c.AbortBadRequest("directory not readable")
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:  entry.Name(),
			Path:  filepath.Join(resolved, entry.Name()),
			IsDir: entry.IsDir(),
			Size:  info.Size(),
		})
	}
	return c.OK(FileListResponse{Success: true, Files: files})
}

func (s *Server) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// safePath resolves p (absolute or root-relative) and rejects anything that
// escapes the sandbox root.
func (s *Server) safePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	clean := filepath.Clean(p)
	if clean != s.root && !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside the sandbox root", p)
	}
	return clean, nil
}

// limitedWriter stops writing after a byte limit; excess is discarded.
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
