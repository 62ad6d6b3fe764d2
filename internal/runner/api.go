// Package runner implements the in-container daemon that executes commands
// and moves files on behalf of the gateway, plus the wire types of its HTTP
// protocol.
package runner

// CommandRequest asks the daemon to run a shell command.
type CommandRequest struct {
	Command    string  `json:"command"`
	WorkingDir string  `json:"working_dir,omitempty"`
	Timeout    float64 `json:"timeout,omitempty"` // seconds; 0 = daemon default
}

// CommandResponse reports the outcome of a command.
type CommandResponse struct {
	Success       bool    `json:"success"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	ReturnCode    int     `json:"return_code"`
	ExecutionTime float64 `json:"execution_time"` // seconds
}

// FileOperationResponse reports the outcome of an upload or delete.
type FileOperationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// FileInfo describes one entry in a directory listing.
type FileInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FileListResponse is the body of a list-files call.
type FileListResponse struct {
	Success bool       `json:"success"`
	Files   []FileInfo `json:"files"`
}

// HealthResponse is the body of a health probe.
type HealthResponse struct {
	Status string `json:"status"`
}
