package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/runner"
	goutils "github.com/jkaninda/go-utils"
)

var (
	runnerListenAddr string
	runnerRootDir    string
	runnerTimeoutS   int
)

// runnerCmd starts the in-container execution daemon. It is self-contained
// on purpose: the container has no config file, only flags and env.
var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Start the execution daemon inside the runtime container",
	RunE:  runRunner,
}

func init() {
	runnerCmd.Flags().StringVar(&runnerListenAddr, "listen", goutils.Env("SANDUKU_RUNNER_LISTEN", ":8222"), "listen address")
	runnerCmd.Flags().StringVar(&runnerRootDir, "root", goutils.Env("SANDUKU_RUNNER_ROOT", ""), "sandbox root directory (default: $HOME)")
	runnerCmd.Flags().IntVar(&runnerTimeoutS, "timeout", 60, "default command timeout in seconds")
}

func runRunner(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	srv, err := runner.NewServer(runner.Config{
		ListenAddr: runnerListenAddr,
		RootDir:    runnerRootDir,
		Timeout:    time.Duration(runnerTimeoutS) * time.Second,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runGateway(ctx, srv, logger)
}
