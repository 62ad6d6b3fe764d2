// Package mcpserver exposes the execution engine as MCP tools over stdio,
// so agent frameworks can create sessions and run code without the HTTP API.
package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/sanduku/internal/deps"
	"github.com/jkaninda/sanduku/internal/session"
)

const maxToolOutput = 10000

// Server is the stdio MCP gateway.
type Server struct {
	sessions *session.Manager
	deps     *deps.Manager
	logger   *slog.Logger
	mcp      *server.MCPServer
}

// NewServer creates the MCP server and registers the tool set.
func NewServer(sessions *session.Manager, depsMgr *deps.Manager, version string, logger *slog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		deps:     depsMgr,
		logger:   logger.With(slog.String("component", "mcp")),
		mcp:      server.NewMCPServer("sanduku", version),
	}
	s.registerTools()
	return s
}

// Start serves MCP over stdin/stdout and blocks until the stream closes.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("mcp server starting")
	return server.ServeStdio(s.mcp)
}

// Stop is a no-op: the stdio transport ends when stdin closes.
func (s *Server) Stop(ctx context.Context) error {
	return nil
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create an isolated execution session. Returns the session name used by the other tools.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Session name (optional, generated when omitted)",
				},
			},
		},
	}, s.handleCreateSession)

	s.mcp.AddTool(mcp.Tool{
		Name:        "execute_code",
		Description: "Run Python code in a session. Imports are installed automatically when whitelisted; unsafe code is rejected.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session name from create_session",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"ignore_dependencies": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Imports to exclude from dependency installation (optional)",
				},
				"ignore_unsafe_functions": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Function names to exclude from the unsafe-call check (optional)",
				},
			},
			Required: []string{"session", "code"},
		},
	}, s.handleExecuteCode)

	s.mcp.AddTool(mcp.Tool{
		Name:        "close_session",
		Description: "Close a session and remove its workspace from the execution host.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session name",
				},
			},
			Required: []string{"session"},
		},
	}, s.handleCloseSession)

	s.mcp.AddTool(mcp.Tool{
		Name:        "upload_file",
		Description: "Upload a text file into the session's src directory so scripts can read it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session name",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "Destination filename (no path separators)",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "File content",
				},
			},
			Required: []string{"session", "filename", "content"},
		},
	}, s.handleUploadFile)

	s.mcp.AddTool(mcp.Tool{
		Name:        "download_artifact",
		Description: "Download a file the session wrote under artifacts/. Binary content is returned base64-encoded.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session name",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "Artifact filename",
				},
			},
			Required: []string{"session", "filename"},
		},
	}, s.handleDownloadArtifact)

	s.mcp.AddTool(mcp.Tool{
		Name:        "list_packages",
		Description: "List the Python packages currently available on the execution host.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
		},
	}, s.handleListPackages)
}

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	name, _ := args["name"].(string)

	sess, err := s.sessions.Create(ctx, name)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult(sess.Name()), nil
}

func (s *Server) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	name, _ := args["session"].(string)
	code, _ := args["code"].(string)
	if name == "" || code == "" {
		return errResult("error: 'session' and 'code' are required"), nil
	}

	sess, err := s.sessions.Get(name)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	output, success := sess.Run(ctx, code,
		stringList(args["ignore_dependencies"]),
		stringList(args["ignore_unsafe_functions"]),
	)

	if len(output) > maxToolOutput {
		output = output[:maxToolOutput] + "\n... (output truncated)"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: output}},
		IsError: !success,
	}, nil
}

func (s *Server) handleCloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	name, _ := args["session"].(string)
	if name == "" {
		return errResult("error: 'session' is required"), nil
	}

	if err := s.sessions.Close(ctx, name); err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult("session closed"), nil
}

func (s *Server) handleUploadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	name, _ := args["session"].(string)
	filename, _ := args["filename"].(string)
	content, _ := args["content"].(string)
	if name == "" || filename == "" {
		return errResult("error: 'session' and 'filename' are required"), nil
	}

	sess, err := s.sessions.Get(name)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	if err := sess.UploadFile(ctx, filename, []byte(content)); err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult("uploaded " + filename), nil
}

func (s *Server) handleDownloadArtifact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	name, _ := args["session"].(string)
	filename, _ := args["filename"].(string)
	if name == "" || filename == "" {
		return errResult("error: 'session' and 'filename' are required"), nil
	}

	sess, err := s.sessions.Get(name)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	data, err := sess.DownloadArtifact(ctx, filename)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	if utf8.Valid(data) {
		return textResult(string(data)), nil
	}
	return textResult("base64:" + base64.StdEncoding.EncodeToString(data)), nil
}

func (s *Server) handleListPackages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(strings.Join(s.deps.Packages(), "\n")), nil
}

func stringList(v any) []string {
	items, _ := v.([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
