package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/voice-batch-engine/internal/api"
	"github.com/acme/voice-batch-engine/internal/api/handlers"
	"github.com/acme/voice-batch-engine/internal/app"
	"github.com/acme/voice-batch-engine/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name)
	if err != nil {
		log.Fatalf("failed to initialise telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), container.Config.Telemetry.ShutdownTimeout)
		defer shutdownCancel()
		_ = shutdown(shutdownCtx)
	}()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	handlerSet, err := handlers.NewHandlerSet(container)
	if err != nil {
		log.Fatalf("failed to build handlers: %v", err)
	}

	scheduler, err := container.Scheduler()
	if err != nil {
		log.Fatalf("failed to build scheduler: %v", err)
	}
	scheduler.Start(ctx)

	server := api.NewServer(container, handlerSet)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
