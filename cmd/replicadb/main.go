package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replicadb/internal/configuration"
	"replicadb/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	dir := os.Getenv("REPLICADB_CONFIG_DIR")
	if dir == "" {
		dir = configuration.DefaultDir
	}

	cfg, err := configuration.Load(dir)
	if err != nil {
		slog.Error("Failed to load configuration", "dir", dir, "error", err)
		os.Exit(1)
	}

	logging.Init(cfg.App.LogLevel)
	slog.Info("Starting replicadb...",
		"replica_id", cfg.Node.ReplicaID,
		"coordinator", cfg.Node.Coordinator,
		"profile", cfg.App.Profile,
	)

	node, err := NewNode(cfg)
	if err != nil {
		slog.Error("Failed to build node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(ctx); err != nil {
		slog.Error("Failed to start node", "error", err)
		node.Stop(context.Background())
		os.Exit(1)
	}

	slog.Info("replicadb ready")
	<-ctx.Done()

	slog.Info("Shutting down replicadb...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	node.Stop(stopCtx)
}
