package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jkaninda/sanduku/internal/runner"
)

const maxDownloadBytes = 32 << 20 // 32 MB

// RunnerHost talks to the runner daemon over its HTTP protocol. This is the
// default substrate: the daemon runs inside the isolation container and the
// gateway never touches the container directly.
type RunnerHost struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewRunnerHost creates a host for the daemon at baseURL
// (e.g. "http://127.0.0.1:8222").
func NewRunnerHost(baseURL string, logger *slog.Logger) *RunnerHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunnerHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-side timeout: per-call deadlines come from the context,
		// and command calls may legitimately run for minutes.
		client: &http.Client{},
		logger: logger.With(slog.String("component", "runner_host")),
	}
}

// RunCommand executes a shell command through the daemon. The daemon-side
// timeout is derived from the context deadline so both ends agree on the
// budget. Stdout and stderr are returned concatenated, stdout first.
func (h *RunnerHost) RunCommand(ctx context.Context, command, workdir string) (int, string, error) {
	req := runner.CommandRequest{
		Command:    command,
		WorkingDir: workdir,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Timeout = time.Until(deadline).Seconds()
	}

	var resp runner.CommandResponse
	if err := h.postJSON(ctx, "/execute-command", req, &resp); err != nil {
		return -1, "", err
	}
	return resp.ReturnCode, resp.Stdout + resp.Stderr, nil
}

// PutFile uploads content to destPath via the daemon's multipart endpoint.
func (h *RunnerHost) PutFile(ctx context.Context, content []byte, destPath string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", path.Base(destPath))
	if err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.WriteField("destination", destPath); err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/upload-file", &body)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var resp runner.FileOperationResponse
	if err := h.do(httpReq, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("uploading %s: %s", destPath, resp.Message)
	}
	return nil
}

// GetFile downloads the file at path from the daemon.
func (h *RunnerHost) GetFile(ctx context.Context, filePath string) ([]byte, error) {
	u := h.baseURL + "/download-file?path=" + url.QueryEscape(filePath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling runner: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("downloading %s: runner returned %d: %s",
			filePath, httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("reading download body: %w", err)
	}
	return data, nil
}

// RemoveAll deletes path recursively through the daemon. Missing paths are
// treated as already removed.
func (h *RunnerHost) RemoveAll(ctx context.Context, filePath string) error {
	u := h.baseURL + "/delete-file?path=" + url.QueryEscape(filePath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}

	var resp runner.FileOperationResponse
	if err := h.do(httpReq, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("deleting %s: %s", filePath, resp.Message)
	}
	return nil
}

// Health probes the daemon's /health endpoint.
func (h *RunnerHost) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	var resp runner.HealthResponse
	if err := h.do(httpReq, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("runner unhealthy: status %q", resp.Status)
	}
	return nil
}

func (h *RunnerHost) postJSON(ctx context.Context, endpoint string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return h.do(httpReq, resp)
}

func (h *RunnerHost) do(req *http.Request, out any) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling runner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDownloadBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding runner response: %w", err)
	}
	return nil
}
