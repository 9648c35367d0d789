package startup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/retouchapp/retouch/internal/logging"
	"github.com/retouchapp/retouch/internal/web"
)

// Run starts the web server and blocks until a shutdown signal is received.
// It handles SIGTERM and SIGINT signals for graceful shutdown.
//
// Returns nil on clean shutdown, error otherwise.
func Run(ctx context.Context, server *web.Server, logger *logging.Logger) error {
	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ListenAndServe blocks until the context is cancelled or an error
	// occurs. The web.Server itself logs shutdown progress.
	if err := server.ListenAndServe(shutdownCtx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops background components after the web server has exited.
// Errors are logged, not returned, so cleanup always runs to completion.
func Shutdown(components *Components, logger *logging.Logger) {
	if components == nil {
		return
	}

	logger.Debug("Stopping background components")

	if components.SessionManager != nil {
		components.SessionManager.Shutdown()
	}

	logger.Debug("Shutdown complete")
}
