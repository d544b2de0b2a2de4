// Package main provides the entry point for the coordinator service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/configuration"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/logging"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	coordinator "github.com/smartcontractkit/chainlink-ccv-coordinator/pkg"
)

func main() {
	lggr, err := logger.NewWith(logging.ConfigFromEnv())
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	lggr = logger.Named(lggr, "coordinator")
	sugaredLggr := logger.Sugared(lggr)

	filePath, ok := os.LookupEnv("COORDINATOR_CONFIG_PATH")
	if !ok {
		filePath = coordinator.DefaultConfigFile
	}
	if len(os.Args) > 1 {
		filePath = os.Args[1]
	}
	config, undecoded, err := configuration.LoadConfig(filePath)
	if err != nil {
		lggr.Errorw("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if len(undecoded) > 0 {
		lggr.Warnw("Configuration contains unknown keys", "keys", undecoded)
	}
	if err := config.LoadFromEnvironment(); err != nil {
		lggr.Errorw("Failed to load configuration from environment", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		lggr.Errorw("Invalid configuration", "error", err)
		os.Exit(1)
	}
	lggr.Infow("Loaded configuration", "coordinatorID", config.CoordinatorID, "storage", config.Storage.StorageType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := coordinator.NewServer(ctx, sugaredLggr, config)
	if err != nil {
		sugaredLggr.Fatalw("Failed to create coordinator", "error", err)
	}
	if err := server.Start(ctx); err != nil {
		sugaredLggr.Fatalw("Failed to start coordinator", "error", err)
	}

	select {
	case <-ctx.Done():
	case <-server.Done():
	}
	if err := server.Stop(); err != nil {
		sugaredLggr.Errorw("Failed to stop coordinator", "error", err)
	}
	sugaredLggr.Info("Coordinator shut down gracefully")
}
