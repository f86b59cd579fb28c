// Package main runs the token tracker service:
// - Scheduler: ingestion, first-mention resolution, performance refresh, delivery
// - HTTP: /health, /status, /metrics, token queries
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/birdeye"
	"github.com/bbopar/discord-token-tracker/internal/config"
	"github.com/bbopar/discord-token-tracker/internal/delivery"
	"github.com/bbopar/discord-token-tracker/internal/discord"
	"github.com/bbopar/discord-token-tracker/internal/ingestion"
	"github.com/bbopar/discord-token-tracker/internal/logging"
	"github.com/bbopar/discord-token-tracker/internal/mention"
	"github.com/bbopar/discord-token-tracker/internal/orchestrator"
	"github.com/bbopar/discord-token-tracker/internal/performance"
	"github.com/bbopar/discord-token-tracker/internal/storage/backend"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	backendName := flag.String("backend", "", "Storage backend override (file, memory, postgres, mongo)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := logging.New("info", "text", "server")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	if *backendName != "" {
		cfg.Storage.Backend = *backendName
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	logger := logging.New(cfg.General.LogLevel, cfg.General.LogFormat, "server")
	if err := cfg.ValidatePipeline(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	stores, err := backend.Open(ctx, backend.Options{
		Backend:         cfg.Storage.Backend,
		DataFile:        cfg.Storage.DataFile,
		PostgresDSN:     cfg.Storage.PostgresDSN,
		MongoURI:        cfg.Storage.MongoURI,
		ClickHouseDSN:   cfg.Storage.ClickHouseDSN,
		RefreshInterval: cfg.Storage.RefreshInterval,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer stores.Close()

	if path := cfg.Storage.LegacyImportFile; path != "" && cfg.Storage.Backend != config.BackendFile {
		res, err := backend.ImportLegacy(ctx, stores.Tokens, path)
		if err != nil {
			return err
		}
		logger.Info().
			Str("file", path).
			Int("tokens", res.Tokens).
			Int("sent", res.Sent).
			Int("refreshes", res.Refreshes).
			Msg("legacy document imported")
	}

	discordClient := discord.NewClient(cfg.Discord.Token,
		discord.WithBaseURL(cfg.Discord.BaseURL),
		discord.WithTimeout(cfg.Discord.Timeout),
	)
	market := birdeye.NewClient(cfg.Birdeye.APIKey,
		birdeye.WithBaseURL(cfg.Birdeye.BaseURL),
		birdeye.WithChain(cfg.Birdeye.Chain),
		birdeye.WithTimeout(cfg.Birdeye.Timeout),
		birdeye.WithMaxAttempts(cfg.Birdeye.MaxAttempts),
		birdeye.WithRetryDelay(cfg.Birdeye.RetryDelay),
		birdeye.WithRateLimit(cfg.Birdeye.RateLimitRPS, cfg.Birdeye.RateLimitBurst),
	)
	sender := delivery.NewClient(cfg.Delivery.AgentID,
		delivery.WithBaseURL(cfg.Delivery.BaseURL),
		delivery.WithTimeout(cfg.Delivery.Timeout),
	)

	scheduler := orchestrator.New(orchestrator.Options{
		Store: stores.Tokens,
		Events: ingestion.NewPoller(ingestion.PollerOptions{
			Source:    discordClient,
			ChannelID: cfg.Discord.ChannelID,
			BotName:   cfg.Discord.BotName,
			Limit:     cfg.Discord.MessageLimit,
			Logger:    logger,
		}),
		Mentions: mention.NewResolver(mention.Options{
			Search:    discordClient,
			Store:     stores.Tokens,
			GuildID:   cfg.Discord.GuildID,
			ChannelID: cfg.Discord.ChannelID,
			BotName:   cfg.Discord.BotName,
			Logger:    logger,
		}),
		Performance:      performance.NewResolver(market, performance.Options{Logger: logger}),
		Sender:           sender,
		History:          stores.History,
		IngestInterval:   cfg.Scheduler.IngestInterval,
		MentionInterval:  cfg.Scheduler.MentionInterval,
		RefreshInterval:  cfg.Scheduler.RefreshInterval,
		DeliveryInterval: cfg.Scheduler.DeliveryInterval,
		Logger:           logger,
	})
	if err := scheduler.Prime(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: (&api{
			tokens:  stores.Tokens,
			status:  scheduler,
			logger:  logger.With().Str("component", "http").Logger(),
			started: time.Now(),
		}).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	schedDone := make(chan error, 1)
	go func() { schedDone <- scheduler.Run(runCtx) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	err = <-schedDone
	logger.Info().Msg("server stopped")
	return err
}
