package performance

import (
	"math"

	"github.com/bbopar/discord-token-tracker/internal/birdeye"
	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// Heuristic thresholds.
const (
	rapidDump1h            = -20.0
	rapidDump30m           = -15.0
	rapidDump24h           = -50.0
	suspiciousVolume24hUSD = 1_000_000.0
	suspiciousVolume6hUSD  = 500_000.0
	suspiciousVolume1hUSD  = 250_000.0
	suspiciousVolumeChange = 500.0
)

// Metric name patterns, one %s per timeframe.
const (
	priceChangeField  = "price_change_%s_percent"
	volumeChangeField = "volume_%s_change_percent"
	tradeChangeField  = "trade_%s_change_percent"
	holderChangeField = "unique_wallet_%s_change_percent"
	volumeUSDField    = "volume_%s_usd"
)

// Compute derives a snapshot from the provider payloads.
// security and liquidity may be nil; trade data must not be.
func Compute(address string, trade *birdeye.TradeData, security *birdeye.Security, liquidity *domain.LiquiditySnapshot) *domain.PerformanceSnapshot {
	if security == nil {
		security = &birdeye.Security{}
	}

	price := trade.Get("price")
	supply := security.TotalSupply

	s := &domain.PerformanceSnapshot{
		TokenAddress:       trade.Address,
		PriceChange24h:     fallback(trade, priceChangeField),
		VolumeChange24h:    fallback(trade, volumeChangeField),
		TradeChange24h:     fallback(trade, tradeChangeField),
		HolderChange24h:    fallback(trade, holderChangeField),
		Liquidity:          fallback(trade, volumeUSDField),
		LiquidityChange24h: 0,
		RugPull:            security.FakeToken != nil && *security.FakeToken,
		IsScam:             security.JupStrictList == nil || !*security.JupStrictList,
		MarketCapChange24h: marketCapChange(price, trade.Get("history_24h_price"), supply),
		SustainedGrowth:    sustainedGrowth(trade),
		RapidDump:          rapidDump(trade),
		SuspiciousVolume:   suspiciousVolume(trade),
		ValidationTrust:    0,
		Balance:            security.CreatorBalance,
		InitialMarketCap:   finite(supply * price),
		Price:              price,
		Volume24h:          trade.Get("volume_24h_usd"),
	}
	s.MarketCap = s.InitialMarketCap

	if s.TokenAddress == "" {
		s.TokenAddress = address
	}

	if liquidity != nil {
		if liquidity.Liquidity != 0 {
			s.Liquidity = liquidity.Liquidity
		}
		if liquidity.Price != 0 {
			s.Price = liquidity.Price
		}
		if liquidity.Volume24h != 0 {
			s.Volume24h = liquidity.Volume24h
		}
		if liquidity.MarketCap != 0 {
			s.MarketCap = liquidity.MarketCap
		}
	}
	return s
}

// fallback returns the first reported non-zero value across birdeye.Timeframes, else 0.
func fallback(trade *birdeye.TradeData, pattern string) float64 {
	names := make([]string, len(birdeye.Timeframes))
	for i, tf := range birdeye.Timeframes {
		names[i] = fieldName(pattern, tf)
	}
	return firstNonZero(trade, names...)
}

func firstNonZero(trade *birdeye.TradeData, names ...string) float64 {
	for _, name := range names {
		if v, ok := trade.Value(name); ok && v != 0 {
			return v
		}
	}
	return 0
}

// marketCapChange is the percent change of price*supply against the 24h-ago price.
// A missing current or 24h-ago price yields 0.
func marketCapChange(price, price24hAgo, supply float64) float64 {
	if price == 0 || price24hAgo == 0 {
		return 0
	}
	then := price24hAgo * supply
	return finite((price*supply - then) / then * 100)
}

// sustainedGrowth requires 24h/12h/6h to be positive or unreported, and 4h strictly positive.
func sustainedGrowth(trade *birdeye.TradeData) bool {
	for _, tf := range []string{"24h", "12h", "6h"} {
		if trade.Get(fieldName(priceChangeField, tf)) < 0 {
			return false
		}
	}
	return trade.Get(fieldName(priceChangeField, "4h")) > 0
}

func rapidDump(trade *birdeye.TradeData) bool {
	return below(trade, fieldName(priceChangeField, "1h"), rapidDump1h) ||
		below(trade, fieldName(priceChangeField, "30m"), rapidDump30m) ||
		below(trade, fieldName(priceChangeField, "24h"), rapidDump24h)
}

func suspiciousVolume(trade *birdeye.TradeData) bool {
	change := firstNonZero(trade, fieldName(volumeChangeField, "24h"), fieldName(volumeChangeField, "1h"))
	return trade.Get(fieldName(volumeUSDField, "24h")) > suspiciousVolume24hUSD ||
		trade.Get(fieldName(volumeUSDField, "6h")) > suspiciousVolume6hUSD ||
		trade.Get(fieldName(volumeUSDField, "1h")) > suspiciousVolume1hUSD ||
		math.Abs(change) > suspiciousVolumeChange
}

// below reports whether the metric is reported and strictly under threshold.
func below(trade *birdeye.TradeData, name string, threshold float64) bool {
	v, ok := trade.Value(name)
	return ok && v < threshold
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
