package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report is the token lifecycle report.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Filter      string // human-readable filter description

	Summary Summary

	// Tokens in listing order
	Tokens []TokenRow

	// Posters ranked by tokens they were first to mention
	Posters []PosterRow
}

// Summary aggregates the listed tokens.
type Summary struct {
	TotalTokens      int
	NewListings      int // first update is a new listing
	WithFirstMention int
	WithPerformance  int
	Sent             int
	Flagged          int // rug pull or scam
	FirstSeenStart   time.Time
	FirstSeenEnd     time.Time
}

// TokenRow is one token of the report.
type TokenRow struct {
	TokenAddress    string
	Name            string
	Ticker          string
	Chain           string
	FirstSeenAt     time.Time
	Updates         int
	FirstMarketCap  decimal.Decimal // zero when unknown
	LatestMarketCap decimal.Decimal // zero when unknown
	Growth          decimal.Decimal // latest / first, zero when unknown
	FirstMention    string          // username, empty when unresolved
	Sent            bool
	SolanaAddress   bool // address decodes as a base58 public key

	HasPerformance  bool
	PriceChange24h  float64
	RugPull         bool
	IsScam          bool
	RapidDump       bool
	SustainedGrowth bool
}

// PosterRow counts tokens per first-mention author.
type PosterRow struct {
	Username  string
	DiscordID string
	Tokens    int
	Sent      int
}
