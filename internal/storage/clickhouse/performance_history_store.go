package clickhouse

import (
	"context"
	"fmt"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// PerformanceHistoryStore implements storage.PerformanceHistoryStore using ClickHouse.
type PerformanceHistoryStore struct {
	conn *Conn
}

// NewPerformanceHistoryStore creates a new PerformanceHistoryStore.
func NewPerformanceHistoryStore(conn *Conn) *PerformanceHistoryStore {
	return &PerformanceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PerformanceHistoryStore = (*PerformanceHistoryStore)(nil)

// Append adds a point. Returns ErrDuplicateKey if (token_address, timestamp_ms) exists.
// MergeTree does not enforce keys, so the check is explicit.
func (s *PerformanceHistoryStore) Append(ctx context.Context, p *domain.PerformancePoint) error {
	if p == nil || p.TokenAddress == "" || p.TimestampMs < 0 {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, p.TokenAddress, p.TimestampMs)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO performance_history (
			token_address, timestamp_ms, price, liquidity, market_cap, volume_24h, price_change_24h
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		p.TokenAddress, uint64(p.TimestampMs),
		p.Price, p.Liquidity, p.MarketCap, p.Volume24h, p.PriceChange24h,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAddress returns all points for a token, ordered by timestamp ASC.
func (s *PerformanceHistoryStore) GetByAddress(ctx context.Context, address string) ([]*domain.PerformancePoint, error) {
	query := `
		SELECT token_address, timestamp_ms, price, liquidity, market_cap, volume_24h, price_change_24h
		FROM performance_history FINAL
		WHERE token_address = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("query performance history: %w", err)
	}
	defer rows.Close()

	return scanPerformanceHistory(rows)
}

func (s *PerformanceHistoryStore) exists(ctx context.Context, address string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM performance_history
		WHERE token_address = ? AND timestamp_ms = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, address, uint64(timestampMs)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanPerformanceHistory(rows chRows) ([]*domain.PerformancePoint, error) {
	points := []*domain.PerformancePoint{}

	for rows.Next() {
		var p domain.PerformancePoint
		var timestampMs uint64

		err := rows.Scan(
			&p.TokenAddress, &timestampMs,
			&p.Price, &p.Liquidity, &p.MarketCap, &p.Volume24h, &p.PriceChange24h,
		)
		if err != nil {
			return nil, fmt.Errorf("scan performance history row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance history rows: %w", err)
	}
	return points, nil
}
