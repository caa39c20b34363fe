package commands

import (
	"context"
	"fmt"

	"github.com/fedid/fedid/internal/logger"
	"github.com/fedid/fedid/pkg/config"
	"github.com/fedid/fedid/pkg/store"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// withStore loads the configuration, assembles the domain registry and runs
// fn against the resulting virtual store. Backends are closed afterwards.
//
// Management commands use this to operate on the store directly, without a
// running server.
func withStore(fn func(ctx context.Context, s *store.VirtualStore) error) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Keep CLI output clean unless the user asked for more.
	logger.SetLevel("WARN")

	registry, closeBackends, err := config.BuildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to build domain registry: %w", err)
	}
	defer func() { _ = closeBackends() }()

	s, err := store.New(registry)
	if err != nil {
		return err
	}

	return fn(context.Background(), s)
}
