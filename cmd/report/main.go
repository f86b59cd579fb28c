// Package main renders a token report from the configured store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/config"
	"github.com/bbopar/discord-token-tracker/internal/logging"
	"github.com/bbopar/discord-token-tracker/internal/reporting"
	"github.com/bbopar/discord-token-tracker/internal/storage"
	"github.com/bbopar/discord-token-tracker/internal/storage/backend"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	backendName := flag.String("backend", "", "Storage backend override (file, memory, postgres, mongo)")
	format := flag.String("format", "markdown", "Output format: markdown or csv")
	output := flag.String("output", "", "Output file (default stdout)")
	chain := flag.String("chain", "", "Filter by chain")
	ticker := flag.String("ticker", "", "Filter by ticker")
	start := flag.String("start", "", "First seen at or after (RFC3339)")
	end := flag.String("end", "", "First seen at or before (RFC3339)")
	sortBy := flag.String("sort", "", "Sort field: firstSeenAt, marketCap, price, volume")
	limit := flag.Int("limit", 0, "Maximum tokens (0 = all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *backendName != "" {
		cfg.Storage.Backend = *backendName
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.General.LogLevel, cfg.General.LogFormat, "report")

	filter, err := buildFilter(*chain, *ticker, *start, *end, *sortBy, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, filter, *format, *output, logger); err != nil {
		logger.Fatal().Err(err).Msg("report failed")
	}
}

func run(ctx context.Context, cfg *config.Config, filter storage.TokenFilter, format, output string, logger zerolog.Logger) error {
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

	report, err := reporting.NewGenerator(stores.Tokens).Generate(ctx, filter)
	if err != nil {
		return err
	}

	var body string
	switch format {
	case "markdown", "md":
		body = reporting.RenderMarkdown(report)
	case "csv":
		if body, err = reporting.RenderCSV(report.Tokens); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if output == "" {
		_, err = fmt.Fprint(os.Stdout, body)
		return err
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(output, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	logger.Info().Str("file", output).Int("tokens", len(report.Tokens)).Msg("report written")
	return nil
}

func buildFilter(chain, ticker, start, end, sortBy string, limit int) (storage.TokenFilter, error) {
	f := storage.TokenFilter{Chain: chain, Ticker: ticker, Limit: limit}

	field, err := storage.ParseSortField(sortBy)
	if err != nil {
		return f, err
	}
	f.SortBy = field

	if start != "" {
		ts, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return f, fmt.Errorf("invalid -start: %w", err)
		}
		f.StartTime = &ts
	}
	if end != "" {
		ts, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return f, fmt.Errorf("invalid -end: %w", err)
		}
		f.EndTime = &ts
	}
	return f, nil
}
