// Package main provides the entry point for the voice pipeline application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/Raikerian/go-voice-pipeline/internal/app"
	"github.com/Raikerian/go-voice-pipeline/internal/capture"
	"github.com/Raikerian/go-voice-pipeline/internal/config"
	"github.com/Raikerian/go-voice-pipeline/internal/infrastructure"
	"github.com/Raikerian/go-voice-pipeline/internal/metrics"
	"github.com/Raikerian/go-voice-pipeline/internal/pipeline"
	"github.com/Raikerian/go-voice-pipeline/internal/session"
	"github.com/Raikerian/go-voice-pipeline/internal/transport"
	pkginfra "github.com/Raikerian/go-voice-pipeline/pkg/infrastructure"
)

func main() {
	// Set a default config path. This can be overridden by environment variables or flags if needed.
	configPath := "config.yaml"

	// Create the application with all modules
	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,

		// Audio I/O modules
		capture.Module,
		transport.Module,

		// Processing modules
		pipeline.Module,
		session.Module,
		metrics.Module,

		// Supply the config path
		fx.Supply(configPath),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)

	// Set up a channel to listen for OS signals (like Ctrl+C)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the application in a goroutine
	go application.Run()

	// Block until a signal is received
	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	// Give the application 30 seconds to shut down gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	err := application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
