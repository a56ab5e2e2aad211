package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	apiserver "github.com/confmesh/confmesh/api"
	"github.com/confmesh/confmesh/pkg/config"
	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/providers"
	"github.com/confmesh/confmesh/pkg/providers/meeting"
	"github.com/confmesh/confmesh/pkg/providers/preferences"
	"github.com/confmesh/confmesh/pkg/storage"
)

var version = "dev"

func main() {
	var (
		configFile string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", "", "Path to the configuration file")
	flag.StringVar(&logLevel, "loglevel", "info", "Set the log level")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(version, configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create structured logger
	appLogger := logger.NewDefault("CONFMESH")
	appLogger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	appLogger.Info("Starting confmesh node %s...", version)
	appLogger.Info("Node ID: %s", cfg.NodeID)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(cfg.DBPath, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Create service registry and register all default services
	registry := createServiceRegistry(store, appLogger, cfg)

	// Initialize all services
	ctx := context.Background()
	if err := registry.InitializeAll(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Start runnable services
	if err := registry.StartRunnable(ctx); err != nil {
		log.Fatalf("Failed to start runnable services: %v", err)
	}

	// Create API server
	srv := apiserver.New(registry)

	// Register service-specific routes
	if err := registry.RegisterAllRoutes(srv.App()); err != nil {
		log.Fatalf("Failed to register service routes: %v", err)
	}

	// Start server in a goroutine
	go func() {
		if err := srv.Start(cfg.ServerAddr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server shutdown error: %v", err)
	}

	// Shutdown all services; the meeting service leaves any active session
	if err := registry.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Service shutdown error: %v", err)
	}

	appLogger.Info("Node exited")
}

// createServiceRegistry creates and populates the service registry with default services
func createServiceRegistry(store storage.Storage, log *logger.Logger, cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(store, log, cfg)

	registry.MustRegister(preferences.NewService())
	registry.MustRegister(meeting.NewService())

	return registry
}
