package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccjk/daemon/internal/cloudclient"
	"github.com/ccjk/daemon/internal/config"
	"github.com/ccjk/daemon/internal/lockfile"
	"github.com/ccjk/daemon/internal/logging"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runStart())
		},
	}
}

func runStart() int {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve paths:", err)
		return 1
	}

	cfg, err := config.Load(paths.ConfigFile, paths.KeyFile)
	if err != nil {
		if config.IsConfigError(err) {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	if err := logging.Setup(paths.LogFile, verbose); err != nil {
		fmt.Fprintln(os.Stderr, "setup logging:", err)
		return 1
	}

	if cfg.CloudEnabled() && cfg.Cloud.DeviceKey == "" {
		if err := registerDevice(cfg, paths); err != nil {
			slog.Error("cloud device registration failed", "error", err)
			return 1
		}
	}

	lock, err := lockfile.Acquire(paths.LockFile)
	if err != nil {
		if errors.Is(err, lockfile.ErrHeld) {
			fmt.Fprintln(os.Stderr, "daemon already running (lock held at", paths.LockFile, ")")
			return 2
		}
		slog.Error("failed to acquire lock", "error", err)
		return 3
	}
	defer lock.Release()

	orch := buildOrchestrator(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	slog.Info("daemon starting", "version", Version, "mode", cfg.Mode, "pid", os.Getpid())
	orch.Run(ctx)
	slog.Info("daemon stopped")
	return 0
}

// registerDevice exchanges the configured cloud account credentials for a
// device key and persists it, so every later start skips this step. It
// runs once, before the lock file is acquired and before any Client's
// session goroutine exists.
func registerDevice(cfg *config.DaemonConfig, paths config.Paths) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := cloudclient.RegisterDevice(ctx, cfg.Cloud.ApiBaseUrl, cfg.Cloud.Email, cfg.Cloud.Password)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	cfg.Cloud.DeviceKey = res.DeviceKey
	if res.HeartbeatIntervalSec > 0 {
		cfg.HeartbeatIntervalSec = res.HeartbeatIntervalSec
	}
	if res.MaxConcurrentTasks > 0 {
		cfg.MaxConcurrentTasks = res.MaxConcurrentTasks
	}
	slog.Info("registered with cloud control plane", "deviceKeyIssued", cfg.Cloud.DeviceKey != "")

	if err := config.Save(cfg, paths.ConfigFile, paths.KeyFile); err != nil {
		return fmt.Errorf("persist device key: %w", err)
	}
	return nil
}
