// Package backend opens the configured TokenStore and history sink.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/storage"
	chstore "github.com/bbopar/discord-token-tracker/internal/storage/clickhouse"
	"github.com/bbopar/discord-token-tracker/internal/storage/memory"
	"github.com/bbopar/discord-token-tracker/internal/storage/migrations"
	mongostore "github.com/bbopar/discord-token-tracker/internal/storage/mongo"
	pgstore "github.com/bbopar/discord-token-tracker/internal/storage/postgres"
)

// Backend names.
const (
	File     = "file"
	Memory   = "memory"
	Postgres = "postgres"
	Mongo    = "mongo"
)

// Options selects and configures the stores.
type Options struct {
	Backend         string
	DataFile        string
	PostgresDSN     string
	MongoURI        string
	ClickHouseDSN   string // optional history sink
	RefreshInterval time.Duration
	Logger          zerolog.Logger
}

// Stores holds the opened stores.
type Stores struct {
	Tokens  storage.TokenStore
	History storage.PerformanceHistoryStore // nil when no sink is configured

	closers []func()
}

// Close releases every connection, last opened first.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Open opens the token store and, if configured, the ClickHouse history store.
// Database backends have their schema migrated first.
func Open(ctx context.Context, opts Options) (*Stores, error) {
	logger := opts.Logger.With().Str("component", "storage").Logger()
	storeOpts := []storage.Option{}
	if opts.RefreshInterval > 0 {
		storeOpts = append(storeOpts, storage.WithRefreshInterval(opts.RefreshInterval))
	}

	stores := &Stores{}

	switch opts.Backend {
	case File, "":
		if opts.DataFile == "" {
			return nil, errors.New("file backend requires a data file path")
		}
		store, err := memory.OpenFileStore(opts.DataFile, storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		stores.Tokens = store
		logger.Info().Str("backend", File).Str("path", opts.DataFile).Msg("token store opened")

	case Memory:
		stores.Tokens = memory.NewTokenStore(storeOpts...)
		stores.History = memory.NewPerformanceHistoryStore()
		logger.Info().Str("backend", Memory).Msg("token store opened")

	case Postgres:
		pool, err := pgstore.NewPool(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			stores.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.Tokens = pgstore.NewTokenStore(pool, storeOpts...)
		logger.Info().Str("backend", Postgres).Msg("token store opened")

	case Mongo:
		client, err := mongostore.Connect(ctx, opts.MongoURI)
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(ctx); err != nil {
				logger.Warn().Err(err).Msg("close mongo client")
			}
		})
		store, err := mongostore.NewTokenStore(ctx, client.Database(), storeOpts...)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		stores.Tokens = store
		logger.Info().Str("backend", Mongo).Str("database", client.Database().Name()).Msg("token store opened")

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", storage.ErrInvalidInput, opts.Backend)
	}

	if opts.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, opts.ClickHouseDSN)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.closers = append(stores.closers, func() { _ = conn.Close() })
		stores.History = chstore.NewPerformanceHistoryStore(conn)
		logger.Info().Msg("performance history enabled")
	}

	return stores, nil
}

// ImportLegacy imports the legacy document at path into store.
// A missing file is not an error and imports nothing.
func ImportLegacy(ctx context.Context, store storage.TokenStore, path string) (storage.ImportResult, error) {
	doc, err := storage.ReadLegacyDocument(path)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ImportResult{}, nil
	}
	if err != nil {
		return storage.ImportResult{}, err
	}
	res, err := store.Import(ctx, doc)
	if err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}
	return res, nil
}
