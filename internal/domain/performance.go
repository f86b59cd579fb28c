package domain

import "time"

// PerformanceSnapshot is the normalized market view of a token.
// JSON names are the ones the recommendation consumer expects.
type PerformanceSnapshot struct {
	Symbol             string  `json:"symbol" bson:"symbol"` // ticker of the owning record
	TokenAddress       string  `json:"tokenAddress" bson:"tokenAddress"`
	PriceChange24h     float64 `json:"priceChange24h" bson:"priceChange24h"`
	VolumeChange24h    float64 `json:"volumeChange24h" bson:"volumeChange24h"`
	TradeChange24h     float64 `json:"trade_24h_change" bson:"trade_24h_change"`
	Liquidity          float64 `json:"liquidity" bson:"liquidity"`
	LiquidityChange24h float64 `json:"liquidityChange24h" bson:"liquidityChange24h"` // always 0, no liquidity series is kept
	HolderChange24h    float64 `json:"holderChange24h" bson:"holderChange24h"`
	RugPull            bool    `json:"rugPull" bson:"rugPull"`
	IsScam             bool    `json:"isScam" bson:"isScam"`
	MarketCapChange24h float64 `json:"marketCapChange24h" bson:"marketCapChange24h"`
	SustainedGrowth    bool    `json:"sustainedGrowth" bson:"sustainedGrowth"`
	RapidDump          bool    `json:"rapidDump" bson:"rapidDump"`
	SuspiciousVolume   bool    `json:"suspiciousVolume" bson:"suspiciousVolume"`
	ValidationTrust    float64 `json:"validationTrust" bson:"validationTrust"`
	Balance            float64 `json:"balance" bson:"balance"` // creator balance
	InitialMarketCap   float64 `json:"initialMarketCap" bson:"initialMarketCap"`

	// Sort keys for token listings.
	Price     float64 `json:"price" bson:"price"`
	Volume24h float64 `json:"volume24h" bson:"volume24h"`
	MarketCap float64 `json:"mcap" bson:"mcap"`
}

// LiquiditySnapshot is the single-endpoint overview of a token.
type LiquiditySnapshot struct {
	TokenAddress   string
	Liquidity      float64
	Price          float64
	PriceChange24h float64
	Volume24h      float64
	MarketCap      float64
	FetchedAt      time.Time
}

// PerformancePoint is one row of performance history.
// Corresponds to performance_history table in ClickHouse.
type PerformancePoint struct {
	TokenAddress   string
	TimestampMs    int64 // Unix timestamp in milliseconds
	Price          float64
	Liquidity      float64
	MarketCap      float64
	Volume24h      float64
	PriceChange24h float64
}

// NewPerformancePoint derives a history row from a snapshot.
func NewPerformancePoint(s *PerformanceSnapshot, at time.Time) *PerformancePoint {
	return &PerformancePoint{
		TokenAddress:   s.TokenAddress,
		TimestampMs:    at.UnixMilli(),
		Price:          s.Price,
		Liquidity:      s.Liquidity,
		MarketCap:      s.MarketCap,
		Volume24h:      s.Volume24h,
		PriceChange24h: s.PriceChange24h,
	}
}
