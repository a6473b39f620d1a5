package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"voxqueue/internal/app"
	"voxqueue/internal/config"
	"voxqueue/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and job processor",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runServe())
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired jobs and exit",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCleanup())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voxqueue %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// checkDependencies verifies that the configured external binaries can be
// found on PATH before the processor ever tries to shell out to them.
// A missing dependency is distinguished from a startup failure (exit code
// 2 rather than 1, per spec.md §6) since it is almost always an
// environment problem rather than a voxqueue bug.
func checkDependencies(cfg *config.Config) error {
	for _, bin := range []string{cfg.YtDLPPath, cfg.FFmpegPath, cfg.TranscribeCmd} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("dependency check: %q not found on PATH: %w", bin, err)
		}
	}
	return nil
}

func runServe() int {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if err := checkDependencies(cfg); err != nil {
		logger.Error("startup dependency check failed", "error", err)
		return 2
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("failed to construct application", "error", err)
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited with error", "error", err)
			return 1
		}
	case <-sigCh:
		logger.Info("shutdown signal received")
		if err := a.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
			return 1
		}
	}
	return 0
}

func runCleanup() int {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("failed to construct application", "error", err)
		return 1
	}
	defer a.Store.Close()

	deleted, err := a.Processor.RunRetentionGC()
	if err != nil {
		logger.Error("cleanup failed", "error", err)
		return 1
	}
	logger.Info("cleanup complete", "deleted_count", deleted)
	return 0
}
