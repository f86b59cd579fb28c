package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Token Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.Filter != "" {
		sb.WriteString(fmt.Sprintf("Filter: `%s`\n\n", r.Filter))
	}

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Tokens | %d |\n", s.TotalTokens))
	sb.WriteString(fmt.Sprintf("| New Listings | %d |\n", s.NewListings))
	sb.WriteString(fmt.Sprintf("| With First Mention | %d |\n", s.WithFirstMention))
	sb.WriteString(fmt.Sprintf("| With Performance | %d |\n", s.WithPerformance))
	sb.WriteString(fmt.Sprintf("| Sent | %d |\n", s.Sent))
	sb.WriteString(fmt.Sprintf("| Flagged (rug/scam) | %d |\n", s.Flagged))
	if s.TotalTokens > 0 {
		sb.WriteString(fmt.Sprintf("| First Seen From | %s |\n", s.FirstSeenStart.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("| First Seen To | %s |\n", s.FirstSeenEnd.Format(time.RFC3339)))
	}
	sb.WriteString("\n")

	// Tokens
	sb.WriteString("## Tokens\n\n")
	if len(r.Tokens) > 0 {
		sb.WriteString("| Ticker | Name | Address | First Seen | First MC | Latest MC | Growth | First Mention | Sent | 24h % | Flags |\n")
		sb.WriteString("|--------|------|---------|------------|----------|-----------|--------|---------------|------|-------|-------|\n")
		for _, t := range r.Tokens {
			mention := t.FirstMention
			if mention == "" {
				mention = "-"
			}
			change := "-"
			if t.HasPerformance {
				change = fmt.Sprintf("%.2f", t.PriceChange24h)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | `%s` | %s | %s | %s | %sx | %s | %s | %s | %s |\n",
				escape(t.Ticker), escape(t.Name), t.TokenAddress,
				t.FirstSeenAt.Format("2006-01-02 15:04"),
				t.FirstMarketCap.String(), t.LatestMarketCap.String(), t.Growth.StringFixed(2),
				escape(mention), yesNo(t.Sent), change, flags(t)))
		}
	} else {
		sb.WriteString("No tokens match the filter.\n")
	}
	sb.WriteString("\n")

	// Posters
	sb.WriteString("## First Mentions by User\n\n")
	if len(r.Posters) > 0 {
		sb.WriteString("| User | Discord ID | Tokens | Sent |\n")
		sb.WriteString("|------|------------|--------|------|\n")
		for _, p := range r.Posters {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d |\n", escape(p.Username), p.DiscordID, p.Tokens, p.Sent))
		}
	} else {
		sb.WriteString("No resolved first mentions.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func flags(t TokenRow) string {
	var out []string
	if t.RugPull {
		out = append(out, "rug")
	}
	if t.IsScam {
		out = append(out, "scam")
	}
	if t.RapidDump {
		out = append(out, "dump")
	}
	if t.SustainedGrowth {
		out = append(out, "growth")
	}
	if !t.SolanaAddress {
		out = append(out, "non-base58")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// escape keeps pipes in user content from breaking the table.
func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
