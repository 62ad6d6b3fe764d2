// Sanduku runs untrusted Python in isolated, session-scoped workspaces.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sanduku",
	Short: "Sanduku runs untrusted Python in isolated execution sessions.",
	Long: `Sanduku is a code execution engine for untrusted Python. Code is gated by a
static policy check, its imports are installed against a whitelist, and it
runs inside an isolated host (a runner daemon in a container, or docker exec)
with a bounded timeout. Sessions expose the engine over a REST API and MCP.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, runnerCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
