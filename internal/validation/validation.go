// Package validation decides whether a recommendation is complete enough to leave the system.
package validation

import (
	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// Check returns the paths of required fields that are missing from rec.
// Strings are missing when empty and timestamps when zero; numeric and boolean
// performance fields always carry a value once a snapshot exists.
func Check(rec *domain.Recommendation) []string {
	if rec == nil {
		return []string{"user", "token", "performance"}
	}

	var missing []string
	require := func(ok bool, path string) {
		if !ok {
			missing = append(missing, path)
		}
	}

	require(rec.User.Username != "", "user.username")
	require(rec.User.DiscordID != "", "user.discordId")
	require(!rec.User.Timestamp.IsZero(), "user.timestamp")

	t := rec.Token
	require(t.Name != "", "token.name")
	require(t.Ticker != "", "token.ticker")
	require(t.Chain != "", "token.chain")
	require(t.TokenAddress != "", "token.tokenAddress")
	require(t.PumpLink != "", "token.pumpFunLink")
	require(t.MarketCap != "", "token.marketCap")
	require(t.Percentage != "", "token.percentage")
	require(t.RecommendationType.IsValid(), "token.recommendationType")
	require(!t.Timestamp.IsZero(), "token.timestamp")

	if rec.Performance == nil {
		return append(missing, "performance")
	}
	require(rec.Performance.Symbol != "", "performance.symbol")
	require(rec.Performance.TokenAddress != "", "performance.tokenAddress")
	return missing
}

// IsComplete reports whether rec passes Check.
func IsComplete(rec *domain.Recommendation) bool {
	return len(Check(rec)) == 0
}
