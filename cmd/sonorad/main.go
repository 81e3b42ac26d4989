package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sonoralabs/sonora-core/internal/config"
	"github.com/sonoralabs/sonora-core/internal/recovery"
	"github.com/sonoralabs/sonora-core/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath   string
		recoveryPath string
		showVersion  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&recoveryPath, "recovery", "", "Path to the crash-recovery checkpoint")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).
			Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: runtime.LogLevel(cfg.Telemetry.LogLevel),
	}))

	if recoveryPath == "" {
		recoveryPath = recovery.DefaultPath()
	}
	checkpoint := recovery.MarkStart(recovery.LoadOrDefault(recoveryPath), time.Now().UnixMilli())
	if checkpoint.RecoveryNoticePending {
		logger.Warn("previous run did not shut down cleanly",
			slog.Uint64("launch_count", checkpoint.LaunchCount))
	}
	if err := recovery.Save(recoveryPath, checkpoint); err != nil {
		logger.Warn("failed to persist recovery checkpoint", slog.String("error", err.Error()))
	}

	rt := runtime.New(cfg, logger, runtime.Options{RecoveryPath: recoveryPath})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := rt.Start(ctx)

	checkpoint = recovery.MarkCleanShutdown(recovery.LoadOrDefault(recoveryPath), time.Now().UnixMilli())
	if err := recovery.Save(recoveryPath, checkpoint); err != nil {
		logger.Warn("failed to persist recovery checkpoint", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("runtime exited with error", slog.String("error", runErr.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
