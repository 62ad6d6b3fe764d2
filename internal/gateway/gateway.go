// Package gateway defines the lifecycle contract shared by the entry points
// that expose the execution engine: the REST API, the in-container runner
// daemon, and the stdio MCP server.
package gateway

import "context"

// Gateway is a long-running serving surface with graceful shutdown.
type Gateway interface {
	// Start runs the serving loop and blocks until the gateway exits or
	// ctx is canceled. A nil return means a clean exit.
	Start(ctx context.Context) error

	// Stop drains in-flight work and releases resources. The ctx deadline
	// bounds the grace period.
	Stop(ctx context.Context) error
}
