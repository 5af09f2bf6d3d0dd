package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/datacapture/internal/api"
	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/principal"
	"github.com/org/datacapture/internal/registry"
	"github.com/org/datacapture/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("CAPTURE_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	// Grants need the virtual principals to exist before any collection is created.
	if err := principal.Seed(ctx, store, principal.Bootstrap{AdminEmail: cfg.AdminEmail, AdminName: cfg.AdminName}); err != nil {
		log.Fatal().Err(err).Msg("failed to seed principals")
	}

	srv := api.NewServer(store, registry.NewHTTPClient(cfg.RegistryURL, cfg.RegistryTimeout), api.Config{
		ListenAddr:         cfg.ListenAddr,
		TLSCertFile:        cfg.TLSCertFile,
		TLSKeyFile:         cfg.TLSKeyFile,
		RateLimitPerMinute: cfg.RateLimit,
		SSLRedirect:        cfg.SSLRedirect,
		Collection: collection.Config{
			UserRootPrefix:  cfg.UserRootPrefix,
			UniqueKeyPrefix: cfg.UniqueKeyPrefix,
		},
		Registry: registry.Config{
			Enabled:         cfg.RegistryEnabled,
			AppURL:          cfg.AppURL,
			PhysicalAddress: cfg.PhysicalAddress,
			ANZSRCCode:      cfg.ANZSRCCode,
			GroupName:       cfg.GroupName,
		},
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Bool("registry", cfg.RegistryEnabled).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

func openStorage(ctx context.Context, cfg config) (storage.StorageBackend, error) {
	if cfg.Storage == "memory" {
		log.Warn().Msg("using in-memory storage; data is lost on restart")
		return storage.NewMemoryBackend(), nil
	}

	version, err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir)
	if err != nil {
		return nil, err
	}
	log.Info().Uint("version", version).Msg("migrations applied")

	return storage.NewPostgresBackend(ctx, cfg.DBUrl)
}
