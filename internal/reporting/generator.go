package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// Source is the store surface the generator reads.
type Source interface {
	ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*domain.TokenRecord, error)
	IsSent(ctx context.Context, address string) (bool, error)
}

// Generator produces reports from stored data.
type Generator struct {
	source Source
	now    func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(source Source) *Generator {
	return &Generator{
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a report over the tokens matching filter.
func (g *Generator) Generate(ctx context.Context, filter storage.TokenFilter) (*Report, error) {
	records, err := g.source.ListTokens(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	rows := make([]TokenRow, 0, len(records))
	for _, rec := range records {
		sent, err := g.source.IsSent(ctx, rec.TokenAddress)
		if err != nil {
			return nil, fmt.Errorf("check sent %s: %w", rec.TokenAddress, err)
		}
		rows = append(rows, tokenRow(rec, sent))
	}

	return &Report{
		GeneratedAt: g.now(),
		Filter:      describeFilter(filter),
		Summary:     summarize(records, rows),
		Tokens:      rows,
		Posters:     rankPosters(records, rows),
	}, nil
}

func tokenRow(rec *domain.TokenRecord, sent bool) TokenRow {
	row := TokenRow{
		TokenAddress: rec.TokenAddress,
		Name:         rec.Name,
		Ticker:       rec.Ticker,
		Chain:        rec.Chain,
		FirstSeenAt:  rec.FirstSeenAt,
		Updates:      len(rec.Updates),
		Sent:         sent,

		SolanaAddress: domain.IsSolanaAddress(rec.TokenAddress),
	}

	if len(rec.Updates) > 0 {
		row.FirstMarketCap = compact(rec.Updates[0].MarketCap)
		row.LatestMarketCap = compact(rec.LatestUpdate().MarketCap)
		if row.FirstMarketCap.IsPositive() {
			row.Growth = row.LatestMarketCap.Div(row.FirstMarketCap)
		}
	}
	if rec.FirstMention != nil {
		row.FirstMention = rec.FirstMention.Username
	}
	if p := rec.Performance; p != nil {
		row.HasPerformance = true
		row.PriceChange24h = p.PriceChange24h
		row.RugPull = p.RugPull
		row.IsScam = p.IsScam
		row.RapidDump = p.RapidDump
		row.SustainedGrowth = p.SustainedGrowth
	}
	return row
}

// compact parses a chat figure, treating unparsable input as unknown.
func compact(s string) decimal.Decimal {
	d, err := domain.ParseCompactAmount(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func summarize(records []*domain.TokenRecord, rows []TokenRow) Summary {
	s := Summary{TotalTokens: len(rows)}
	for i, rec := range records {
		if len(rec.Updates) > 0 && rec.Updates[0].Kind == domain.UpdateKindNewListing {
			s.NewListings++
		}
		if rec.FirstMention != nil {
			s.WithFirstMention++
		}
		if rows[i].HasPerformance {
			s.WithPerformance++
		}
		if rows[i].Sent {
			s.Sent++
		}
		if rows[i].RugPull || rows[i].IsScam {
			s.Flagged++
		}
		if s.FirstSeenStart.IsZero() || rec.FirstSeenAt.Before(s.FirstSeenStart) {
			s.FirstSeenStart = rec.FirstSeenAt
		}
		if rec.FirstSeenAt.After(s.FirstSeenEnd) {
			s.FirstSeenEnd = rec.FirstSeenAt
		}
	}
	return s
}

// rankPosters counts tokens per first-mention author, most tokens first.
func rankPosters(records []*domain.TokenRecord, rows []TokenRow) []PosterRow {
	byID := make(map[string]*PosterRow)
	for i, rec := range records {
		if rec.FirstMention == nil {
			continue
		}
		p, ok := byID[rec.FirstMention.DiscordID]
		if !ok {
			p = &PosterRow{Username: rec.FirstMention.Username, DiscordID: rec.FirstMention.DiscordID}
			byID[rec.FirstMention.DiscordID] = p
		}
		p.Tokens++
		if rows[i].Sent {
			p.Sent++
		}
	}

	out := make([]PosterRow, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tokens != out[j].Tokens {
			return out[i].Tokens > out[j].Tokens
		}
		return out[i].DiscordID < out[j].DiscordID
	})
	return out
}

func describeFilter(f storage.TokenFilter) string {
	var parts []string
	if f.Chain != "" {
		parts = append(parts, "chain="+f.Chain)
	}
	if f.Ticker != "" {
		parts = append(parts, "ticker="+f.Ticker)
	}
	if f.Address != "" {
		parts = append(parts, "address="+f.Address)
	}
	if f.StartTime != nil {
		parts = append(parts, "from="+f.StartTime.Format(time.RFC3339))
	}
	if f.EndTime != nil {
		parts = append(parts, "to="+f.EndTime.Format(time.RFC3339))
	}
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = storage.SortByFirstSeen
	}
	parts = append(parts, "sort="+string(sortBy))
	if f.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", f.Limit))
	}
	return strings.Join(parts, " ")
}
