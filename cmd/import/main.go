// Package main imports a legacy JSON document into the configured store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/config"
	"github.com/bbopar/discord-token-tracker/internal/logging"
	"github.com/bbopar/discord-token-tracker/internal/storage/backend"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	backendName := flag.String("backend", "", "Target storage backend (memory is rejected)")
	file := flag.String("file", os.Getenv("LEGACY_IMPORT_FILE"), "Legacy JSON document to import")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *backendName != "" {
		cfg.Storage.Backend = *backendName
	}
	logger := logging.New(cfg.General.LogLevel, cfg.General.LogFormat, "import")

	if *file == "" {
		logger.Fatal().Msg("-file is required")
	}
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Fatal().Msg("importing into the memory backend has no effect")
	}

	if err := run(context.Background(), cfg, *file, logger); err != nil {
		logger.Fatal().Err(err).Msg("import failed")
	}
}

func run(ctx context.Context, cfg *config.Config, file string, logger zerolog.Logger) error {
	stores, err := backend.Open(ctx, backend.Options{
		Backend:         cfg.Storage.Backend,
		DataFile:        cfg.Storage.DataFile,
		PostgresDSN:     cfg.Storage.PostgresDSN,
		MongoURI:        cfg.Storage.MongoURI,
		RefreshInterval: cfg.Storage.RefreshInterval,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer stores.Close()

	res, err := backend.ImportLegacy(ctx, stores.Tokens, file)
	if err != nil {
		return err
	}

	logger.Info().
		Str("file", file).
		Str("backend", cfg.Storage.Backend).
		Int("tokens", res.Tokens).
		Int("sent", res.Sent).
		Int("refreshes", res.Refreshes).
		Msg("import complete")
	return nil
}
