// Package performance resolves market performance snapshots for tracked tokens.
package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/birdeye"
	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// ErrInvalidData is returned when the trade-data endpoint answers without a payload.
var ErrInvalidData = errors.New("invalid performance data")

// MarketData is the provider surface the resolver needs.
// Implementations apply their own retry policy.
type MarketData interface {
	TradeData(ctx context.Context, address string) (*birdeye.TradeData, error)
	Security(ctx context.Context, address string) (*birdeye.Security, error)
	Overview(ctx context.Context, address string) (*birdeye.Overview, error)
}

// Options configures Resolver.
type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

// Resolver fetches and normalizes token performance.
type Resolver struct {
	market MarketData
	logger zerolog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver over market.
func NewResolver(market MarketData, opts Options) *Resolver {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{
		market: market,
		logger: opts.Logger.With().Str("component", "performance").Logger(),
		now:    now,
	}
}

// ResolvePerformance fetches trade data, security data and the overview, in that order.
// An overview failure falls back to the volume proxy for liquidity; the other two fail the call.
func (r *Resolver) ResolvePerformance(ctx context.Context, address string) (*domain.PerformanceSnapshot, error) {
	trade, err := r.market.TradeData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch trade data: %w", err)
	}
	if trade == nil {
		return nil, fmt.Errorf("fetch trade data for %s: %w", address, ErrInvalidData)
	}

	security, err := r.market.Security(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch security data: %w", err)
	}

	liquidity, err := r.ResolveLiquidity(ctx, address)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Debug().Err(err).Str("address", address).Msg("liquidity unavailable, using volume proxy")
		liquidity = nil
	}

	return Compute(address, trade, security, liquidity), nil
}

// ResolveLiquidity fetches the overview figures of a token.
func (r *Resolver) ResolveLiquidity(ctx context.Context, address string) (*domain.LiquiditySnapshot, error) {
	overview, err := r.market.Overview(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch overview: %w", err)
	}
	if overview == nil {
		return nil, fmt.Errorf("fetch overview for %s: %w", address, ErrInvalidData)
	}
	return &domain.LiquiditySnapshot{
		TokenAddress:   address,
		Liquidity:      overview.Liquidity,
		Price:          overview.Price,
		PriceChange24h: overview.PriceChange24h,
		Volume24h:      overview.Volume24h,
		MarketCap:      overview.MarketCap,
		FetchedAt:      r.now(),
	}, nil
}

func fieldName(pattern, timeframe string) string {
	return fmt.Sprintf(pattern, timeframe)
}
