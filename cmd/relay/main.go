package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scriptroom/scriptroom/internal/core/observability/log"
	"github.com/scriptroom/scriptroom/internal/relay"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "path to yaml config")
	flag.Parse()

	config, err := relay.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	logger := log.New(parseLevel(config.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Access control is the embedding application's call; the default
	// deployment fronts the relay with an authenticating proxy and runs
	// the relay itself open.
	srv := relay.NewServer(config, logger, nil)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start the server
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Error starting server", log.Error(err))
	}

	<-stopCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping server", log.Error(err))
	}
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
