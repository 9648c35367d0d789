// Package startup provides startup validation and initialization for retouch.
//
// It validates that required dependencies (the generative edit service) are
// available before the application starts accepting requests.
package startup

import (
	"context"
	"fmt"

	"github.com/retouchapp/retouch/internal/config"
	"github.com/retouchapp/retouch/internal/editor"
	"github.com/retouchapp/retouch/internal/genimg"
	"github.com/retouchapp/retouch/internal/logging"
	"github.com/retouchapp/retouch/internal/persistence"
	"github.com/retouchapp/retouch/internal/store"
	"github.com/retouchapp/retouch/internal/web"
)

// Components holds all initialized application components
type Components struct {
	EditService    genimg.Service
	SessionManager *editor.SessionManager
	ImageStore     *store.Store
	RecordStore    *persistence.RecordStore
	WebServer      *web.Server
	Logger         *logging.Logger
}

// CreateLogger creates a logger with the configured log level
func CreateLogger(cfg *config.Config) *logging.Logger {
	return logging.NewFromString(cfg.LogLevel, nil)
}

// CreateEditService creates the generative edit service client.
// It does NOT validate the connection - use ValidateEditService() separately.
func CreateEditService(ctx context.Context, apiKey string, cfg *config.Config) (*genimg.Client, error) {
	return genimg.NewClient(ctx, apiKey, cfg.Model)
}

// CreateSessionManager creates a session manager for editing state
func CreateSessionManager(logger *logging.Logger) *editor.SessionManager {
	return editor.NewSessionManager(logger)
}

// CreateImageStore creates image storage and starts its cleanup goroutine
func CreateImageStore(ctx context.Context, logger *logging.Logger) *store.Store {
	s := store.New()
	s.StartCleanup(ctx, logger)
	return s
}

// CreateRecordStore creates the persistent edit record store
func CreateRecordStore(cfg *config.Config) *persistence.RecordStore {
	return persistence.NewRecordStore(cfg.SessionDir)
}

// CreateWebServer creates the HTTP server with all dependencies wired
func CreateWebServer(cfg *config.Config, editService genimg.Service, sessionManager *editor.SessionManager, imageStore *store.Store, recordStore *persistence.RecordStore, logger *logging.Logger) (*web.Server, error) {
	addr := fmt.Sprintf("localhost:%d", cfg.Port)

	server, err := web.NewServer(addr, editService, sessionManager, imageStore, recordStore, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create web server: %w", err)
	}

	return server, nil
}

// InitializeAll creates and initializes all application components.
// It does NOT validate dependencies - validation should be done separately.
//
// Parameters:
//   - ctx: Context for component initialization
//   - cfg: Configuration
//   - logger: Logger instance
//   - editService: Generative edit service (from CreateEditService)
func InitializeAll(ctx context.Context, cfg *config.Config, logger *logging.Logger, editService genimg.Service) (*Components, error) {
	logger.Debug("Initializing components")

	sessionManager := CreateSessionManager(logger)
	logger.Debug("Created session manager")

	imageStore := CreateImageStore(ctx, logger)
	logger.Debug("Created image store with cleanup enabled")

	recordStore := CreateRecordStore(cfg)
	logger.Debug("Created record store at %s", cfg.SessionDir)

	webServer, err := CreateWebServer(cfg, editService, sessionManager, imageStore, recordStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create web server: %w", err)
	}
	logger.Debug("Created web server on port %d", cfg.Port)

	return &Components{
		EditService:    editService,
		SessionManager: sessionManager,
		ImageStore:     imageStore,
		RecordStore:    recordStore,
		WebServer:      webServer,
		Logger:         logger,
	}, nil
}
