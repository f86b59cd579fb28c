package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// RenderCSV renders token rows as CSV string.
func RenderCSV(rows []TokenRow) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	// Header
	header := []string{
		"token_address", "name", "ticker", "chain", "first_seen_at", "updates",
		"first_market_cap", "latest_market_cap", "growth", "first_mention", "sent", "solana_address",
		"price_change_24h", "rug_pull", "is_scam", "rapid_dump", "sustained_growth",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	// Rows
	for _, r := range rows {
		record := []string{
			r.TokenAddress,
			r.Name,
			r.Ticker,
			r.Chain,
			r.FirstSeenAt.Format(time.RFC3339),
			strconv.Itoa(r.Updates),
			r.FirstMarketCap.String(),
			r.LatestMarketCap.String(),
			r.Growth.StringFixed(2),
			r.FirstMention,
			strconv.FormatBool(r.Sent),
			strconv.FormatBool(r.SolanaAddress),
			strconv.FormatFloat(r.PriceChange24h, 'f', 2, 64),
			strconv.FormatBool(r.RugPull),
			strconv.FormatBool(r.IsScam),
			strconv.FormatBool(r.RapidDump),
			strconv.FormatBool(r.SustainedGrowth),
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}
