package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/retouchapp/retouch/internal/config"
	"github.com/retouchapp/retouch/internal/genimg"
	"github.com/retouchapp/retouch/internal/startup"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse configuration from CLI flags
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, config.ErrShowHelp) || errors.Is(err, config.ErrShowVersion) {
		// Help or version was shown, exit successfully
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Create logger early
	logger := startup.CreateLogger(cfg)

	logger.Info("Starting retouch...")
	logger.Debug("Configuration: port=%d, model=%s, edit-timeout=%ds, session-dir=%s",
		cfg.Port, cfg.Model, cfg.EditTimeout, cfg.SessionDir)
	logger.Debug("Log level: %s", cfg.LogLevel)

	apiKey, err := startup.ReadAPIKey()
	if err != nil {
		logger.Error("API key check failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "\nSet your API key before starting:\n")
		fmt.Fprintf(os.Stderr, "  export %s=your-key-here\n", genimg.APIKeyEnv)
		return 1
	}

	// Cancelled by signal handlers inside startup.Run
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	editService, err := startup.CreateEditService(ctx, apiKey, cfg)
	if err != nil {
		logger.Error("Failed to create edit service client: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Validate the service is reachable and the model exists
	logger.Debug("Validating edit service connection...")
	if err := startup.ValidateEditService(ctx, editService); err != nil {
		logger.Error("Edit service validation failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "\nCheck that your API key is valid and the model exists:\n")
		fmt.Fprintf(os.Stderr, "  --model %s\n", cfg.Model)
		return 1
	}
	logger.Info("Connected to edit service (model: %s)", cfg.Model)

	// Initialize all components
	logger.Debug("Initializing components...")
	components, err := startup.InitializeAll(ctx, cfg, logger, editService)
	if err != nil {
		logger.Error("Initialization failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer startup.Shutdown(components, logger)

	logger.Info("Listening on http://localhost:%d", cfg.Port)

	// Run server and wait for shutdown signal
	if err := startup.Run(ctx, components.WebServer, logger); err != nil {
		logger.Error("Server error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}
