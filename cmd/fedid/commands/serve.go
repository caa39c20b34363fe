package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fedid/fedid/internal/logger"
	"github.com/fedid/fedid/pkg/api"
	"github.com/fedid/fedid/pkg/api/auth"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/config"
	"github.com/fedid/fedid/pkg/metrics"
	"github.com/fedid/fedid/pkg/store"

	// Import prometheus metrics to register init() functions
	_ "github.com/fedid/fedid/pkg/metrics/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fedid server",
	Long: `Start the fedid server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/fedid/config.yaml.

Examples:
  # Start with default config location
  fedid serve

  # Start with custom config file
  fedid serve --config /etc/fedid/config.yaml

  # Start with environment variable overrides
  FEDID_LOGGING_LEVEL=DEBUG fedid serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics before the store so the store picks up the
	// registered collectors.
	var storeOpts []store.Option
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		storeOpts = append(storeOpts, store.WithMetrics(metrics.NewStoreMetrics()))
	}

	// Assemble the domain registry from configuration.
	registry, closeBackends, err := config.BuildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to build domain registry: %w", err)
	}
	defer func() {
		if err := closeBackends(); err != nil {
			logger.Error("Backend close error", "error", err)
		}
	}()
	logger.Info("Domain registry initialized", "domains", registry.Len())

	virtualStore, err := store.New(registry, storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create virtual store: %w", err)
	}

	secret := cfg.API.GetJWTSecret()
	if secret == "" {
		return fmt.Errorf("no JWT secret configured\n\n"+
			"Set api.jwt.secret in the config file, or export %s", api.EnvAPISecret)
	}
	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               secret,
		AccessTokenDuration:  cfg.API.JWT.AccessTokenDuration,
		RefreshTokenDuration: cfg.API.JWT.RefreshTokenDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w", err)
	}

	profiles, err := claim.NewProfileSet(cfg.Profiles)
	if err != nil {
		return fmt.Errorf("failed to compile claim profiles: %w", err)
	}
	if profiles.Len() > 0 {
		logger.Info("Claim profiles loaded", "profiles", profiles.Len())
	}

	apiServer := api.NewServer(cfg.API, api.NewRouter(virtualStore, jwtService, profiles))
	logger.Info("API server configured", "port", apiServer.Port())

	// Metrics endpoint on its own port so it can stay off the public surface.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("Metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Hot-reload: logging changes apply without a restart. Domain changes
	// require one.
	watcher, err := config.NewWatcher(GetConfigFile(), func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Logging.Level)
		logger.SetFormat(newCfg.Logging.Format)
	})
	if err != nil {
		logger.Warn("Config hot-reload unavailable", "error", err)
	} else {
		if err := watcher.Start(); err != nil {
			logger.Warn("Config hot-reload unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	shutdown := func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown error", "error", err)
			}
		}
		return apiServer.Stop(shutdownCtx)
	}

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")

		// Stop first so the shutdown timeout from config applies, then
		// cancel to unblock Start.
		if err := shutdown(); err != nil {
			return err
		}
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		_ = shutdown()
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
