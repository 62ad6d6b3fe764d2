package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sanduku/internal/session"
)

// CreateSessionRequest is the JSON body for POST /v1/sessions.
type CreateSessionRequest struct {
	Name string `json:"name,omitempty"` // Empty = server-generated hex identifier.
}

// SessionResponse describes one live session.
type SessionResponse struct {
	Name         string    `json:"name"`
	Workdir      string    `json:"workdir"`
	SourceDir    string    `json:"source_dir"`
	ArtifactsDir string    `json:"artifacts_dir"`
	LastUsed     time.Time `json:"last_used"`
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		Name:         s.Name(),
		Workdir:      s.Workdir(),
		SourceDir:    s.SrcDir(),
		ArtifactsDir: s.ArtifactsDir(),
		LastUsed:     s.LastUsed(),
	}
}

func (g *Gateway) handleSessionCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if !g.allow(userID) {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	s, err := g.sessions.Create(c.Context(), req.Name)
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			return c.JSON(http.StatusConflict, okapi.M{"error": "session already exists"})
		}
		g.logger.Error("session creation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("session creation failed")
	}

	return c.JSON(http.StatusCreated, sessionResponse(s))
}

func (g *Gateway) handleSessionList(c *okapi.Context) error {
	sessions := g.sessions.List()
	resp := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = sessionResponse(s)
	}
	return c.OK(resp)
}

func (g *Gateway) handleSessionGet(c *okapi.Context) error {
	s, err := g.sessions.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}
	return c.OK(sessionResponse(s))
}

func (g *Gateway) handleSessionClose(c *okapi.Context) error {
	name := c.Param("id")
	if err := g.sessions.Close(c.Context(), name); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
		}
		g.logger.Error("session close failed",
			slog.String("session", name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("session close failed")
	}
	return c.OK(okapi.M{"status": "closed"})
}

// ExecuteRequest is the JSON body for POST /v1/sessions/{id}/execute.
type ExecuteRequest struct {
	Code                  string   `json:"code"`
	IgnoreDependencies    []string `json:"ignore_dependencies,omitempty"`
	IgnoreUnsafeFunctions []string `json:"ignore_unsafe_functions,omitempty"`
}

// ExecuteResponse is the JSON response for code execution. Gate rejections,
// install failures, and timeouts are reported here with success=false, not
// as HTTP errors.
type ExecuteResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	userID := c.GetString("userID")
	if !g.allow(userID) {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	s, err := g.sessions.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Code == "" {
		return c.AbortBadRequest("code is required")
	}

	g.logger.Info("http execute",
		slog.String("user_id", userID),
		slog.String("session", s.Name()),
		slog.Int("code_bytes", len(req.Code)),
	)

	output, success := s.Run(c.Context(), req.Code, req.IgnoreDependencies, req.IgnoreUnsafeFunctions)
	return c.OK(ExecuteResponse{Success: success, Output: output})
}

// UploadResponse is the JSON response after a file upload.
type UploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
}

func (g *Gateway) handleFileUpload(c *okapi.Context) error {
	userID := c.GetString("userID")
	if !g.allow(userID) {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	s, err := g.sessions.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	r := c.Request()
	if err := r.ParseMultipartForm(g.config.MaxRequestSize); err != nil {
		return c.AbortBadRequest("invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return c.AbortBadRequest("file part is required")
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, g.config.MaxRequestSize))
	if err != nil {
		return c.AbortBadRequest("reading upload failed")
	}

	if err := s.UploadFile(c.Context(), header.Filename, content); err != nil {
		if errors.Is(err, session.ErrInvalidFilename) {
			return c.AbortBadRequest(err.Error())
		}
		g.logger.Error("file upload failed",
			slog.String("session", s.Name()),
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("file upload failed")
	}

	return c.OK(UploadResponse{Success: true, Filename: header.Filename})
}

// ArtifactListResponse lists the files under the session's artifacts directory.
type ArtifactListResponse struct {
	Files []string `json:"files"`
}

func (g *Gateway) handleArtifactList(c *okapi.Context) error {
	s, err := g.sessions.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	files, err := s.Artifacts(c.Context())
	if err != nil {
		g.logger.Error("artifact listing failed",
			slog.String("session", s.Name()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("artifact listing failed")
	}
	return c.OK(ArtifactListResponse{Files: files})
}

func (g *Gateway) handleArtifactDownload(c *okapi.Context) error {
	s, err := g.sessions.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	filename := c.Param("filename")
	data, err := s.DownloadArtifact(c.Context(), filename)
	if err != nil {
		if errors.Is(err, session.ErrPathOutsideWorkspace) {
			return c.AbortBadRequest("invalid artifact path")
		}
		return c.JSON(http.StatusNotFound, okapi.M{"error": "artifact not found"})
	}

	w := c.Response()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, err = w.Write(data)
	return err
}

// ExecutionHistoryEntry is one persisted execution in the history listing.
type ExecutionHistoryEntry struct {
	Script     string    `json:"script"`
	Output     string    `json:"output"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

func (g *Gateway) handleExecutionHistory(c *okapi.Context) error {
	name := c.Param("id")
	records, err := g.history.ListBySession(c.Context(), name, 0)
	if err != nil {
		g.logger.Error("execution history lookup failed",
			slog.String("session", name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("execution history lookup failed")
	}

	resp := make([]ExecutionHistoryEntry, len(records))
	for i, rec := range records {
		resp[i] = ExecutionHistoryEntry{
			Script:     rec.Script,
			Output:     rec.Output,
			Success:    rec.Success,
			DurationMS: rec.DurationMS,
			StartedAt:  rec.StartedAt,
		}
	}
	return c.OK(resp)
}

// PackagesResponse lists the dependency manager's cached packages.
type PackagesResponse struct {
	Packages []string `json:"packages"`
}

func (g *Gateway) handlePackages(c *okapi.Context) error {
	return c.OK(PackagesResponse{Packages: g.deps.Packages()})
}
